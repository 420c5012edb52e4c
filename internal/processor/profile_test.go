package processor

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	appconfig "cascadeflow/config"
	profilechannel "cascadeflow/internal/channel/profile"
	"cascadeflow/internal/engine"
	"cascadeflow/internal/models"
)

func newTestProfileProcessor(t *testing.T, cfg *appconfig.Config) (*ProfileProcessor, *engine.Engine) {
	t.Helper()
	eng := engine.New(cfg, nil)
	ch := profilechannel.NewChannels(16)
	return NewProfileProcessor(cfg, ch, eng), eng
}

func TestProfileBuildsThresholdProfile(t *testing.T) {
	cfg := processorTestConfig()
	cfg.Thresholds.MarketCapOverrides = map[string]float64{"BTCUSDT": 1.2e12}
	p, eng := newTestProfileProcessor(t, cfg)

	p.handleMessage(models.RawProfileMessage{
		Exchange:          "binance",
		Symbol:            "BTCUSDT",
		LastPrice:         61000,
		QuoteVolume24h:    25e9,
		PriceChangePct24h: -4.5,
		Timestamp:         time.Now(),
	})

	if got := atomic.LoadInt64(&p.emitted); got != 1 {
		t.Fatalf("expected 1 emitted profile, got %d", got)
	}

	prof := eng.ThresholdProfile("BTCUSDT")
	if prof.ADVUSD != 25e9 {
		t.Fatalf("expected ADV from the 24h quote volume, got %v", prof.ADVUSD)
	}
	if prof.MarketCapUSD != 1.2e12 {
		t.Fatalf("expected the configured market cap override, got %v", prof.MarketCapUSD)
	}
	if prof.Tier != engine.Tier1 {
		t.Fatalf("expected tier 1 classification, got %v", prof.Tier)
	}
	wantVol := 4.5 / cfg.Processor.TypicalDailyMovePct
	if math.Abs(prof.Volatility-wantVol) > 1e-9 {
		t.Fatalf("expected volatility %v, got %v", wantVol, prof.Volatility)
	}
}

func TestProfileRejectsBadVolume(t *testing.T) {
	cfg := processorTestConfig()
	p, _ := newTestProfileProcessor(t, cfg)

	p.handleMessage(models.RawProfileMessage{
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		QuoteVolume24h: -1,
	})
	p.handleMessage(models.RawProfileMessage{
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		QuoteVolume24h: math.NaN(),
	})

	if got := atomic.LoadInt64(&p.errors); got != 2 {
		t.Fatalf("expected 2 errors, got %d", got)
	}
	if got := atomic.LoadInt64(&p.emitted); got != 0 {
		t.Fatalf("expected nothing emitted, got %d", got)
	}
}

func TestProfileFiltersForeignSymbols(t *testing.T) {
	cfg := processorTestConfig()
	p, _ := newTestProfileProcessor(t, cfg)

	p.handleMessage(models.RawProfileMessage{
		Exchange:       "binance",
		Symbol:         "DOGEUSDT",
		QuoteVolume24h: 1e9,
	})

	if got := atomic.LoadInt64(&p.filtered); got != 1 {
		t.Fatalf("expected 1 filtered message, got %d", got)
	}
	if got := atomic.LoadInt64(&p.emitted); got != 0 {
		t.Fatalf("expected nothing emitted, got %d", got)
	}
}

func TestProfileProcessorStartStop(t *testing.T) {
	cfg := processorTestConfig()
	p, _ := newTestProfileProcessor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("failed to start processor: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	cancel()
	p.Stop()
}
