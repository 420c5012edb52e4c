package engine

import "time"

// Velocity is the first derivative of liquidation activity over one window:
// event throughput and notional throughput, both per second.
type Velocity struct {
	EventsPerSecond float64
	VolumePerSecond float64
	Events          int
	VolumeUSD       float64
}

// velocityOver normalizes window aggregates by the window duration. An empty
// window yields zero velocity, never an error, so quiet markets simply score
// low.
func velocityOver(count int, sumUSD float64, window time.Duration) Velocity {
	secs := window.Seconds()
	if secs <= 0 {
		return Velocity{Events: count, VolumeUSD: sumUSD}
	}
	return Velocity{
		EventsPerSecond: float64(count) / secs,
		VolumePerSecond: sumUSD / secs,
		Events:          count,
		VolumeUSD:       sumUSD,
	}
}
