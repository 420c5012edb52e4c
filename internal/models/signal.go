package models

import (
	"fmt"
	"strings"
	"time"
)

// SignalLevel is the discrete severity of a cascade signal. Values are
// ordered so a higher level always means greater severity.
type SignalLevel int

const (
	LevelNone SignalLevel = iota
	LevelWatch
	LevelAlert
	LevelCritical
	LevelExtreme
)

var levelNames = map[SignalLevel]string{
	LevelNone:     "NONE",
	LevelWatch:    "WATCH",
	LevelAlert:    "ALERT",
	LevelCritical: "CRITICAL",
	LevelExtreme:  "EXTREME",
}

func (l SignalLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// MarshalText renders the level by name so JSON consumers see "ALERT"
// instead of an ordinal.
func (l SignalLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel resolves a level name from configuration. Matching is case
// insensitive.
func ParseLevel(s string) (SignalLevel, error) {
	needle := strings.ToUpper(strings.TrimSpace(s))
	for level, name := range levelNames {
		if name == needle {
			return level, nil
		}
	}
	return LevelNone, fmt.Errorf("unknown signal level %q", s)
}

// Factor names used in CascadeSignal.ContributingFactors, in the order the
// scorer reports them.
const (
	FactorVelocity     = "velocity"
	FactorAcceleration = "acceleration"
	FactorVolume       = "volume"
	FactorCorrelation  = "correlation"
	FactorFunding      = "funding"
	FactorOpenInterest = "open_interest"
)

// CascadeSignal is the engine's output record: one per scoring cycle per
// symbol, immutable once produced. The engine keeps only the latest signal
// per symbol; history, deduplication and rate limiting belong to consumers.
type CascadeSignal struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Timestamp   time.Time   `json:"timestamp"`
	Probability float64     `json:"probability"`
	Level       SignalLevel `json:"level"`

	// ContributingFactors lists the factors that individually exceeded
	// their own warning threshold, in scorer order.
	ContributingFactors []string `json:"contributing_factors"`

	// Measurements at the triggering timeframe.
	Timeframe    string  `json:"timeframe"`
	Velocity     float64 `json:"velocity"`
	VolumeRate   float64 `json:"volume_rate"`
	Acceleration float64 `json:"acceleration"`
	AccelOK      bool    `json:"acceleration_available"`
	Correlation  float64 `json:"correlation"`
}
