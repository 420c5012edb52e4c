package metrics

import "sync/atomic"

// Feature gates optional metric streams that cost something to produce.
type Feature uint32

const (
	// FeatureChannelSize emits periodic channel occupancy gauges.
	FeatureChannelSize Feature = 1 << iota
	// FeatureUsedWeight emits REST quota consumption reported by exchanges.
	FeatureUsedWeight
)

var enabledFeatures atomic.Uint32

// EnableFeature turns on an optional metric stream. Intended for startup
// wiring; features are never turned off at runtime.
func EnableFeature(f Feature) {
	for {
		old := enabledFeatures.Load()
		if enabledFeatures.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// IsFeatureEnabled reports whether an optional metric stream is on.
func IsFeatureEnabled(f Feature) bool {
	return enabledFeatures.Load()&uint32(f) != 0
}
