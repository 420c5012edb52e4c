package models

import "time"

// RawProfileMessage is a 24h market statistics observation used to refresh an
// asset's threshold profile. It arrives on the threshold review cadence, not
// per event.
type RawProfileMessage struct {
	Exchange          string
	Symbol            string
	LastPrice         float64
	QuoteVolume24h    float64
	PriceChangePct24h float64
	Timestamp         time.Time
	Payload           []byte
}

// MarketProfile is the normalized market context consumed by the dynamic
// threshold engine. A zero MarketCapUSD means unknown; the engine then tiers
// the asset by average daily volume instead.
type MarketProfile struct {
	Symbol            string
	MarketCapUSD      float64
	AvgDailyVolumeUSD float64

	// VolatilityScore is normalized so 1.0 means typical realized
	// volatility for the asset; the engine clamps it to [0.5, 2.0] when
	// deriving the threshold multiplier.
	VolatilityScore float64

	UpdatedAt time.Time
}
