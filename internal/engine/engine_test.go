package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestEngine pins the engine clock to a weekday US session instant so
// session multipliers stay at 1.0 unless a test moves the clock.
func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()

	cfg := config.Default()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}

	clock := &fakeClock{now: weekdayUS}
	e := New(cfg, nil)
	e.clock = clock.Now
	return e, clock
}

func tier1Market(symbol string) models.MarketProfile {
	return models.MarketProfile{
		Symbol:            symbol,
		MarketCapUSD:      1.2e12,
		AvgDailyVolumeUSD: 30e9,
		VolatilityScore:   1.0,
	}
}

func eventAt(symbol, exchange string, ts time.Time, sizeUSD float64) models.LiquidationEvent {
	return models.LiquidationEvent{
		Symbol:    symbol,
		Exchange:  exchange,
		Side:      models.SideLong,
		SizeUSD:   sizeUSD,
		Price:     50000,
		Timestamp: ts,
	}
}

func TestIngestRejectsMalformedEvents(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	bad := []models.LiquidationEvent{
		{Exchange: "binance", SizeUSD: 100, Price: 1, Timestamp: now},
		{Symbol: "BTCUSDT", SizeUSD: 100, Price: 1, Timestamp: now},
		{Symbol: "BTCUSDT", Exchange: "binance", SizeUSD: 100, Price: 1},
		eventAt("BTCUSDT", "binance", now, 0),
		eventAt("BTCUSDT", "binance", now, math.NaN()),
		{Symbol: "BTCUSDT", Exchange: "binance", SizeUSD: 100, Price: -1, Timestamp: now},
	}
	for _, ev := range bad {
		e.IngestLiquidation(ev)
	}

	stats := e.Stats()
	if stats.RejectedMalformed != uint64(len(bad)) {
		t.Fatalf("expected %d malformed rejections, got %d", len(bad), stats.RejectedMalformed)
	}
	if stats.Ingested != 0 {
		t.Fatalf("expected no ingested events, got %d", stats.Ingested)
	}
}

func TestIngestRejectsEventsBeyondTolerance(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	e.IngestLiquidation(eventAt("BTCUSDT", "binance", now.Add(-3*time.Second), 1000))
	e.IngestLiquidation(eventAt("BTCUSDT", "binance", now.Add(-1*time.Second), 1000))

	stats := e.Stats()
	if stats.RejectedLate != 1 {
		t.Fatalf("expected 1 late rejection, got %d", stats.RejectedLate)
	}
	if stats.Ingested != 1 {
		t.Fatalf("expected 1 accepted event, got %d", stats.Ingested)
	}
}

func TestIngestKeepsWindowsOrderedOnLateArrival(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	e.IngestLiquidation(eventAt("BTCUSDT", "binance", now, 200))
	e.IngestLiquidation(eventAt("BTCUSDT", "bybit", now.Add(-time.Second), 100))

	st := e.state("BTCUSDT")
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, w := range st.windows {
		if w.tf.Duration < time.Second {
			continue
		}
		if w.size != 2 {
			t.Fatalf("%s: expected 2 events, got %d", w.tf.Name, w.size)
		}
		if w.at(0).SizeUSD != 100 || w.at(1).SizeUSD != 200 {
			t.Fatalf("%s: late arrival not inserted in order", w.tf.Name)
		}
	}
}

func TestScoreSelectsShortestInformativeWindow(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	// One second old: outside ultra_fast and fast, inside burst.
	for i := 0; i < 3; i++ {
		e.IngestLiquidation(eventAt("BTCUSDT", "binance", now.Add(-time.Second), 1000))
	}

	sig := e.scoreSymbol(e.state("BTCUSDT"))
	if sig.Timeframe != "burst" {
		t.Fatalf("expected burst timeframe selected, got %q", sig.Timeframe)
	}
	if want := 1.5; sig.Velocity != want {
		t.Fatalf("expected velocity %f, got %f", want, sig.Velocity)
	}
}

func TestColdStartFirstEventScoresQuiet(t *testing.T) {
	e, clock := newTestEngine(t)

	// No market profile: the symbol falls back to micro-cap thresholds,
	// the tightest in the book.
	e.IngestLiquidation(eventAt("BTCUSDT", "binance", clock.Now(), 1000))

	sig := e.scoreSymbol(e.state("BTCUSDT"))
	if sig.Level > models.LevelWatch {
		t.Fatalf("expected NONE or WATCH on the first event, got %s (p=%f, timeframe=%s)",
			sig.Level, sig.Probability, sig.Timeframe)
	}
	if sig.AccelOK {
		t.Fatal("expected acceleration unavailable on the first pass")
	}
	if sig.ID == "" || sig.Symbol != "BTCUSDT" {
		t.Fatalf("expected a well-formed signal, got %+v", sig)
	}

	// A lone event must not be read through a sub-second window, where it
	// would be amplified into a double-digit per-second rate.
	if sig.Timeframe != "burst" {
		t.Fatalf("expected the burst window for a single event, got %q", sig.Timeframe)
	}
	if want := 0.5; sig.Velocity != want {
		t.Fatalf("expected velocity %f, got %f", want, sig.Velocity)
	}

	// Size does not change the outcome: one whale print is still one print.
	e.IngestLiquidation(eventAt("ETHUSDT", "binance", clock.Now(), 50_000_000))
	if sig := e.scoreSymbol(e.state("ETHUSDT")); sig.Level > models.LevelWatch {
		t.Fatalf("expected a lone whale print to stay below ALERT, got %s (p=%f)",
			sig.Level, sig.Probability)
	}
}

func TestAccelerationIsZeroAtConstantRate(t *testing.T) {
	e, clock := newTestEngine(t)
	st := e.state("BTCUSDT")

	for i := 0; i < 4; i++ {
		e.IngestLiquidation(eventAt("BTCUSDT", "binance", clock.Now(), 1000))
	}
	e.scoreSymbol(st)

	// Two seconds later the same burst shape repeats: the rate is unchanged,
	// so its derivative must read exactly zero.
	clock.Advance(2 * time.Second)
	for i := 0; i < 4; i++ {
		e.IngestLiquidation(eventAt("BTCUSDT", "binance", clock.Now(), 1000))
	}
	sig := e.scoreSymbol(st)

	if !sig.AccelOK {
		t.Fatal("expected acceleration available on the second pass")
	}
	if sig.Acceleration != 0 {
		t.Fatalf("expected zero acceleration at constant rate, got %f", sig.Acceleration)
	}
}

func TestAccelerationSignTracksBurstShape(t *testing.T) {
	e, clock := newTestEngine(t)
	st := e.state("BTCUSDT")

	ingest := func(n int) {
		for i := 0; i < n; i++ {
			e.IngestLiquidation(eventAt("BTCUSDT", "binance", clock.Now(), 1000))
		}
	}

	ingest(4)
	e.scoreSymbol(st)

	clock.Advance(time.Second)
	ingest(12)
	igniting := e.scoreSymbol(st)

	clock.Advance(time.Second)
	ingest(4)
	fading := e.scoreSymbol(st)

	if !igniting.AccelOK || igniting.Acceleration <= 0 {
		t.Fatalf("expected positive acceleration while igniting, got %f (ok=%v)",
			igniting.Acceleration, igniting.AccelOK)
	}
	if !fading.AccelOK || fading.Acceleration >= 0 {
		t.Fatalf("expected negative acceleration while fading, got %f (ok=%v)",
			fading.Acceleration, fading.AccelOK)
	}
}

func TestEngineDetectsExtremeCascade(t *testing.T) {
	e, clock := newTestEngine(t)
	e.UpdateMarketProfile(tier1Market("BTCUSDT"))

	// Prime a snapshot so the burst has a prior velocity to accelerate from.
	e.IngestLiquidation(eventAt("BTCUSDT", "binance", clock.Now(), 500_000))
	e.scoreSymbol(e.state("BTCUSDT"))

	clock.Advance(100 * time.Millisecond)
	now := clock.Now()
	venues := []string{"binance", "bybit", "okx"}
	for i := 0; i < 92; i++ {
		e.IngestLiquidation(eventAt("BTCUSDT", venues[i%len(venues)], now, 815_000))
	}

	sig := e.scoreSymbol(e.state("BTCUSDT"))
	if sig.Level != models.LevelExtreme {
		t.Fatalf("expected EXTREME, got %s (p=%f)", sig.Level, sig.Probability)
	}
	if sig.Probability < 0.90 {
		t.Fatalf("expected probability >= 0.90, got %f", sig.Probability)
	}
	if !sig.AccelOK || sig.Acceleration <= 0 {
		t.Fatalf("expected positive acceleration, got %f (ok=%v)", sig.Acceleration, sig.AccelOK)
	}
	if sig.Correlation != 0.75 {
		t.Fatalf("expected correlation 3/4, got %f", sig.Correlation)
	}

	found := map[string]bool{}
	for _, f := range sig.ContributingFactors {
		found[f] = true
	}
	for _, want := range []string{models.FactorVelocity, models.FactorVolume, models.FactorCorrelation} {
		if !found[want] {
			t.Fatalf("expected factor %s in %v", want, sig.ContributingFactors)
		}
	}
}

func TestEngineStaysQuietOnScatteredLiquidations(t *testing.T) {
	e, clock := newTestEngine(t)
	e.UpdateMarketProfile(tier1Market("BTCUSDT"))

	for i := 0; i < 3; i++ {
		e.IngestLiquidation(eventAt("BTCUSDT", "binance", clock.Now(), 133_000))
		clock.Advance(time.Second)
	}

	sig := e.scoreSymbol(e.state("BTCUSDT"))
	if sig.Level != models.LevelNone {
		t.Fatalf("expected NONE for scattered liquidations, got %s (p=%f)", sig.Level, sig.Probability)
	}
	if len(sig.ContributingFactors) != 0 {
		t.Fatalf("expected no contributing factors, got %v", sig.ContributingFactors)
	}
}

func TestEngineDecaysToNoneAfterCascade(t *testing.T) {
	e, clock := newTestEngine(t)
	e.UpdateMarketProfile(tier1Market("BTCUSDT"))

	now := clock.Now()
	for i := 0; i < 30; i++ {
		e.IngestLiquidation(eventAt("BTCUSDT", "binance", now, 2_500_000))
	}

	st := e.state("BTCUSDT")
	if sig := e.scoreSymbol(st); sig.Level == models.LevelNone {
		t.Fatalf("expected an elevated level during the burst, got %s", sig.Level)
	}

	// Everything ages out of even the longest window.
	clock.Advance(301 * time.Second)
	sig := e.scoreSymbol(st)
	if sig.Level != models.LevelNone {
		t.Fatalf("expected decay to NONE, got %s (p=%f)", sig.Level, sig.Probability)
	}
	if sig.Velocity != 0 || sig.VolumeRate != 0 {
		t.Fatalf("expected zero velocity after decay, got %+v", sig)
	}
	if !e.settled(st) {
		t.Fatal("expected the symbol to settle once empty and NONE")
	}
}

func TestConcurrentIngestKeepsAggregatesConsistent(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				e.IngestLiquidation(eventAt("BTCUSDT", "binance", now, 100))
			}
		}(g)
	}
	wg.Wait()

	stats := e.Stats()
	if want := uint64(goroutines * perGoroutine); stats.Ingested != want {
		t.Fatalf("expected %d ingested, got %d", want, stats.Ingested)
	}

	st := e.state("BTCUSDT")
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, w := range st.windows {
		if w.tf.Capacity < goroutines*perGoroutine {
			continue
		}
		if w.size != goroutines*perGoroutine {
			t.Fatalf("%s: expected %d events, got %d", w.tf.Name, goroutines*perGoroutine, w.size)
		}
		if want := float64(goroutines*perGoroutine) * 100; w.sumUSD != want {
			t.Fatalf("%s: expected sum %f, got %f", w.tf.Name, want, w.sumUSD)
		}
	}
}

func TestSubscribeDropsWhenReceiverIsSlow(t *testing.T) {
	e, _ := newTestEngine(t)

	ch, cancel := e.Subscribe(1)
	defer cancel()

	st := e.state("BTCUSDT")
	first := e.scoreSymbol(st)
	second := e.scoreSymbol(st)

	stats := e.Stats()
	if stats.SubscriberDrops != 1 {
		t.Fatalf("expected 1 subscriber drop, got %d", stats.SubscriberDrops)
	}

	got := <-ch
	if got.ID != first.ID {
		t.Fatalf("expected the first signal delivered, got %s", got.ID)
	}

	latest, ok := e.PollLatest("BTCUSDT")
	if !ok {
		t.Fatal("expected a latest signal")
	}
	if latest.ID != second.ID {
		t.Fatalf("expected the newest signal from PollLatest, got %s", latest.ID)
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	e, _ := newTestEngine(t)

	ch, cancel := e.Subscribe(4)
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}
}

func TestFundingAndOpenInterestScoresExpire(t *testing.T) {
	e, clock := newTestEngine(t)

	e.UpdateFundingTrend("BTCUSDT", 0.8)
	e.UpdateOIChangeScore("BTCUSDT", 0.6)

	st := e.state("BTCUSDT")
	sig := e.scoreSymbol(st)
	if want := 0.1*0.8 + 0.1*0.6; math.Abs(sig.Probability-want) > 1e-9 {
		t.Fatalf("expected probability %f from fresh confirmations, got %f", want, sig.Probability)
	}

	// Past the staleness bound the scores read as missing.
	clock.Advance(6 * time.Minute)
	sig = e.scoreSymbol(st)
	if sig.Probability != 0 {
		t.Fatalf("expected stale confirmations to contribute nothing, got %f", sig.Probability)
	}
}

func TestFundingUpdateRejectsNaN(t *testing.T) {
	e, _ := newTestEngine(t)

	e.UpdateFundingTrend("BTCUSDT", math.NaN())
	e.UpdateOIChangeScore("BTCUSDT", math.Inf(1))
	e.UpdateFundingTrend("", 0.5)

	if stats := e.Stats(); stats.RejectedInputs != 3 {
		t.Fatalf("expected 3 rejected inputs, got %d", stats.RejectedInputs)
	}
}

func TestFundingScoreIsClamped(t *testing.T) {
	e, _ := newTestEngine(t)

	e.UpdateFundingTrend("BTCUSDT", 7.5)
	sig := e.scoreSymbol(e.state("BTCUSDT"))
	if want := 0.1; math.Abs(sig.Probability-want) > 1e-9 {
		t.Fatalf("expected clamped funding contribution %f, got %f", want, sig.Probability)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected an error on double start")
	}

	ch, cancel := e.Subscribe(4)
	defer cancel()

	e.Stop()

	if _, open := <-ch; open {
		t.Fatal("expected subscriber channel closed on stop")
	}

	// Stopping again is a no-op.
	e.Stop()
}

func TestStatsCountSignalsByLevel(t *testing.T) {
	e, _ := newTestEngine(t)

	st := e.state("BTCUSDT")
	e.scoreSymbol(st)
	e.scoreSymbol(st)

	stats := e.Stats()
	if stats.SignalsByLevel["NONE"] != 2 {
		t.Fatalf("expected 2 NONE signals, got %d", stats.SignalsByLevel["NONE"])
	}
	if stats.ActiveSymbols != 1 {
		t.Fatalf("expected 1 active symbol, got %d", stats.ActiveSymbols)
	}
}
