package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/models"
)

// LiquidityTier buckets assets by market capitalisation, falling back to
// average daily volume when no market cap is known. A higher tier means a
// deeper market and therefore higher thresholds before activity counts as a
// cascade.
type LiquidityTier int

const (
	TierMicroCap LiquidityTier = iota
	Tier3
	Tier2
	Tier1
)

func (t LiquidityTier) String() string {
	switch t {
	case Tier1:
		return "TIER_1"
	case Tier2:
		return "TIER_2"
	case Tier3:
		return "TIER_3"
	default:
		return "MICRO_CAP"
	}
}

// tierFor classifies by market cap when available, otherwise by ADV.
func tierFor(marketCapUSD, advUSD float64) LiquidityTier {
	if marketCapUSD > 0 {
		switch {
		case marketCapUSD > 100e9:
			return Tier1
		case marketCapUSD > 10e9:
			return Tier2
		case marketCapUSD > 1e9:
			return Tier3
		}
		return TierMicroCap
	}
	switch {
	case advUSD > 5e9:
		return Tier1
	case advUSD > 500e6:
		return Tier2
	case advUSD > 50e6:
		return Tier3
	}
	return TierMicroCap
}

// TradingSession is the coarse liquidity regime for a UTC wall clock instant.
type TradingSession int

const (
	SessionAsian TradingSession = iota
	SessionEuropean
	SessionUS
	SessionWeekend
)

func (s TradingSession) String() string {
	switch s {
	case SessionEuropean:
		return "european"
	case SessionUS:
		return "us"
	case SessionWeekend:
		return "weekend"
	default:
		return "asian"
	}
}

// sessionAt buckets now into a trading session on the UTC clock. Weekends
// win over the hourly buckets.
func sessionAt(now time.Time) TradingSession {
	utc := now.UTC()
	switch utc.Weekday() {
	case time.Saturday, time.Sunday:
		return SessionWeekend
	}
	switch h := utc.Hour(); {
	case h >= 8 && h < 14:
		return SessionEuropean
	case h >= 14 && h < 22:
		return SessionUS
	default:
		return SessionAsian
	}
}

func sessionMultiplier(m config.SessionMultipliers, now time.Time) float64 {
	switch sessionAt(now) {
	case SessionEuropean:
		return m.European
	case SessionUS:
		return m.US
	case SessionWeekend:
		return m.Weekend
	default:
		return m.Asian
	}
}

// Thresholds are the effective normalization levels for one symbol at one
// point in time, session and volatility multipliers already applied. Volume
// thresholds are USD per second.
type Thresholds struct {
	VelocityWarn float64
	VelocityCrit float64
	VolumeWarn   float64
	VolumeCrit   float64
	AccelWarn    float64
	AccelCrit    float64
}

func (t Thresholds) scaled(m float64) Thresholds {
	return Thresholds{
		VelocityWarn: t.VelocityWarn * m,
		VelocityCrit: t.VelocityCrit * m,
		VolumeWarn:   t.VolumeWarn * m,
		VolumeCrit:   t.VolumeCrit * m,
		AccelWarn:    t.AccelWarn * m,
		AccelCrit:    t.AccelCrit * m,
	}
}

// AssetProfile is the cached per-symbol threshold profile. Once built it is
// immutable; rebuilds install a fresh value atomically so readers observe
// either the old or the new profile, never a half-written one.
type AssetProfile struct {
	Symbol       string
	Tier         LiquidityTier
	MarketCapUSD float64
	ADVUSD       float64
	Volatility   float64
	Base         Thresholds
	GeneratedAt  time.Time
	NextReview   time.Time
}

type profileEntry struct {
	mu      sync.Mutex // serializes rebuilds; readers never take it
	current atomic.Pointer[AssetProfile]
	market  atomic.Pointer[models.MarketProfile]
}

// ThresholdEngine derives and caches per-symbol thresholds. Profiles rebuild
// when their review deadline passes or when fresh market data arrives, so a
// profile is never silently stale beyond its review interval.
type ThresholdEngine struct {
	cfg config.ThresholdsConfig

	mu      sync.RWMutex
	entries map[string]*profileEntry
}

func NewThresholdEngine(cfg config.ThresholdsConfig) *ThresholdEngine {
	return &ThresholdEngine{
		cfg:     cfg,
		entries: make(map[string]*profileEntry),
	}
}

func (e *ThresholdEngine) entry(symbol string) *profileEntry {
	e.mu.RLock()
	ent := e.entries[symbol]
	e.mu.RUnlock()
	if ent != nil {
		return ent
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if ent = e.entries[symbol]; ent == nil {
		ent = &profileEntry{}
		e.entries[symbol] = ent
	}
	return ent
}

// UpdateMarketProfile installs fresh market reference data for a symbol and
// rebuilds its threshold profile immediately. The data is consumed here, on
// the review cadence, never on the per-event hot path.
func (e *ThresholdEngine) UpdateMarketProfile(p models.MarketProfile, now time.Time) {
	ent := e.entry(p.Symbol)
	ent.market.Store(&p)

	ent.mu.Lock()
	ent.current.Store(e.rebuild(p.Symbol, &p, now))
	ent.mu.Unlock()
}

// Profile returns the cached profile for symbol, rebuilding it when missing
// or past its review deadline. Unknown symbols fall back to the configured
// default ADV and are classified conservatively.
func (e *ThresholdEngine) Profile(symbol string, now time.Time) *AssetProfile {
	ent := e.entry(symbol)
	if p := ent.current.Load(); p != nil && now.Before(p.NextReview) {
		return p
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if p := ent.current.Load(); p != nil && now.Before(p.NextReview) {
		return p
	}
	p := e.rebuild(symbol, ent.market.Load(), now)
	ent.current.Store(p)
	return p
}

// EffectiveThresholds applies the session and volatility multipliers for now
// on top of the symbol's cached base profile.
func (e *ThresholdEngine) EffectiveThresholds(symbol string, now time.Time) (Thresholds, *AssetProfile) {
	p := e.Profile(symbol, now)
	m := sessionMultiplier(e.cfg.Sessions, now) * clamp(p.Volatility, e.cfg.VolatilityMin, e.cfg.VolatilityMax)
	return p.Base.scaled(m), p
}

func (e *ThresholdEngine) rebuild(symbol string, market *models.MarketProfile, now time.Time) *AssetProfile {
	marketCap := 0.0
	adv := e.cfg.DefaultADVUSD
	volatility := 1.0
	if market != nil {
		marketCap = market.MarketCapUSD
		if market.AvgDailyVolumeUSD > 0 {
			adv = market.AvgDailyVolumeUSD
		}
		if market.VolatilityScore > 0 {
			volatility = market.VolatilityScore
		}
	}
	if marketCap <= 0 {
		if override, ok := e.cfg.MarketCapOverrides[symbol]; ok {
			marketCap = override
		}
	}

	tier := tierFor(marketCap, adv)
	tc := e.tierConfig(tier)

	return &AssetProfile{
		Symbol:       symbol,
		Tier:         tier,
		MarketCapUSD: marketCap,
		ADVUSD:       adv,
		Volatility:   volatility,
		Base: Thresholds{
			VelocityWarn: tc.VelocityWarn,
			VelocityCrit: tc.VelocityCrit,
			// ADV percentages describe a share of a day's volume landing
			// inside one minute, so the per-second rate divides by 60.
			VolumeWarn: tc.ADVPctWarn / 100 * adv / 60,
			VolumeCrit: tc.ADVPctCrit / 100 * adv / 60,
			AccelWarn:  tc.AccelWarn,
			AccelCrit:  tc.AccelCrit,
		},
		GeneratedAt: now,
		NextReview:  now.Add(e.cfg.ReviewInterval),
	}
}

func (e *ThresholdEngine) tierConfig(t LiquidityTier) config.TierConfig {
	switch t {
	case Tier1:
		return e.cfg.Tiers.Tier1
	case Tier2:
		return e.cfg.Tiers.Tier2
	case Tier3:
		return e.cfg.Tiers.Tier3
	default:
		return e.cfg.Tiers.MicroCap
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
