package engine

import (
	"math"
	"time"
)

// externalScore is a collaborator supplied factor in [0,1] together with its
// update time. Values past the staleness bound read as missing so a dead
// derivatives feed degrades the composite score instead of pinning it.
type externalScore struct {
	value     float64
	updatedAt time.Time
}

func (s externalScore) at(now time.Time, bound time.Duration) (float64, bool) {
	if s.updatedAt.IsZero() || now.Sub(s.updatedAt) > bound {
		return 0, false
	}
	return s.value, true
}

// clampScore normalizes a pushed factor into [0,1]. NaN and infinities
// report failure so the caller can reject and count the update.
func clampScore(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return clamp(v, 0, 1), true
}
