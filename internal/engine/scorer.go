package engine

import (
	"math"

	"cascadeflow/config"
	"cascadeflow/internal/models"
)

// scoreInput carries everything one scoring pass needs: the measurements of
// the selected timeframe, the effective thresholds, and the collaborator
// factors with their availability. Missing factors contribute zero; they
// never block a pass.
type scoreInput struct {
	Timeframe  string
	Events     int     // events in the selected window
	Velocity   float64 // events per second
	VolumeRate float64 // USD per second
	Accel      float64 // events per second squared
	AccelOK    bool

	Correlation float64
	CorrActive  int

	Funding      float64
	FundingOK    bool
	OpenInterest float64
	OIOK         bool

	Thresholds Thresholds
}

// scorer folds the six factor scores into a cascade probability and maps the
// pass to a severity level.
type scorer struct {
	weights config.WeightsConfig
	boost   float64
}

// ratio saturates x against limit into [0,1].
func ratio(x, limit float64) float64 {
	if limit <= 0 || x <= 0 || math.IsNaN(x) {
		return 0
	}
	if x >= limit {
		return 1
	}
	return x / limit
}

func (s scorer) score(in scoreInput) (float64, models.SignalLevel, []string) {
	th := in.Thresholds

	velScore := ratio(in.Velocity, th.VelocityCrit)
	volScore := ratio(in.VolumeRate, th.VolumeCrit)

	// Acceleration scores on magnitude: a violently decelerating cascade is
	// as informative as an igniting one. Sign only matters for the CRITICAL
	// escalation rule below.
	accelScore := 0.0
	if in.AccelOK {
		accelScore = ratio(math.Abs(in.Accel), th.AccelCrit)
	}

	corrScore := clamp(in.Correlation, 0, 1)
	fundingScore := 0.0
	if in.FundingOK {
		fundingScore = clamp(in.Funding, 0, 1)
	}
	oiScore := 0.0
	if in.OIOK {
		oiScore = clamp(in.OpenInterest, 0, 1)
	}

	p := s.weights.Velocity*velScore +
		s.weights.Acceleration*accelScore +
		s.weights.Volume*volScore +
		s.weights.Correlation*corrScore +
		s.weights.Funding*fundingScore +
		s.weights.OpenInterest*oiScore

	if in.AccelOK && math.Abs(in.Accel) > th.AccelCrit {
		p *= s.boost
	}
	p = clamp(p, 0, 1)

	return p, classify(p, in, th), contributingFactors(in, th)
}

// classify maps a scoring pass to its severity. Rules run from the most
// severe down and the first match wins, so raising any measurement can only
// hold or raise the level. The raw rate arms above WATCH require at least
// two events in the selected window: a lone print is not a cascade, however
// large it is.
func classify(p float64, in scoreInput, th Thresholds) models.SignalLevel {
	accel := 0.0
	if in.AccelOK {
		accel = in.Accel
	}
	burst := in.Events >= 2

	switch {
	case p > 0.90 || (burst && (in.Velocity > 2*th.VelocityCrit || in.VolumeRate > 2*th.VolumeCrit)):
		return models.LevelExtreme
	case p > 0.70 || (burst && in.Velocity > th.VelocityCrit && accel > th.AccelCrit):
		return models.LevelCritical
	case p > 0.50 || (burst && in.Velocity > 2*th.VelocityWarn):
		return models.LevelAlert
	case p > 0.30 || in.Velocity > th.VelocityWarn:
		return models.LevelWatch
	}
	return models.LevelNone
}

// contributingFactors lists the factors sitting above their own warning
// line, in a fixed report order. Correlation needs at least two venues
// active: one exchange alone is not correlation.
func contributingFactors(in scoreInput, th Thresholds) []string {
	var factors []string
	if in.Velocity > th.VelocityWarn {
		factors = append(factors, models.FactorVelocity)
	}
	if in.AccelOK && math.Abs(in.Accel) > th.AccelWarn {
		factors = append(factors, models.FactorAcceleration)
	}
	if in.VolumeRate > th.VolumeWarn {
		factors = append(factors, models.FactorVolume)
	}
	if in.Correlation >= 0.5 && in.CorrActive >= 2 {
		factors = append(factors, models.FactorCorrelation)
	}
	if in.FundingOK && in.Funding >= 0.5 {
		factors = append(factors, models.FactorFunding)
	}
	if in.OIOK && in.OpenInterest >= 0.5 {
		factors = append(factors, models.FactorOpenInterest)
	}
	return factors
}
