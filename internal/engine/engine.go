package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cascadeflow/config"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

// Engine is the cascade detection core. It consumes normalized liquidation
// events, maintains sliding windows and derivative state per symbol, and
// publishes one CascadeSignal per scoring pass to its subscribers.
//
// All per-symbol state is guarded by that symbol's own mutex and scored by
// that symbol's own worker goroutine; there is no lock shared across symbols
// on the hot path.
type Engine struct {
	cfg        config.EngineConfig
	timeframes []Timeframe
	thresholds *ThresholdEngine
	scorer     scorer
	venues     int
	log        *logger.Log

	mu      sync.RWMutex
	symbols map[string]*symbolState
	running bool

	subMu  sync.Mutex
	subs   map[uint64]chan models.CascadeSignal
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// clock is replaceable so scoring behaviour can be pinned in tests.
	clock func() time.Time

	ingested          atomic.Uint64
	rejectedLate      atomic.Uint64
	rejectedMalformed atomic.Uint64
	rejectedInputs    atomic.Uint64
	overflowDrops     atomic.Uint64
	slowTicks         atomic.Uint64
	published         atomic.Uint64
	subscriberDrops   atomic.Uint64
	byLevel           [int(models.LevelExtreme) + 1]atomic.Uint64
}

// Stats is a point-in-time snapshot of the engine counters.
type Stats struct {
	ActiveSymbols     int               `json:"active_symbols"`
	Ingested          uint64            `json:"ingested"`
	RejectedLate      uint64            `json:"rejected_late"`
	RejectedMalformed uint64            `json:"rejected_malformed"`
	RejectedInputs    uint64            `json:"rejected_inputs"`
	OverflowDrops     uint64            `json:"overflow_drops"`
	SlowTicks         uint64            `json:"slow_ticks"`
	Published         uint64            `json:"published"`
	SubscriberDrops   uint64            `json:"subscriber_drops"`
	SignalsByLevel    map[string]uint64 `json:"signals_by_level"`
}

// symbolState holds everything the engine knows about one symbol. The dirty
// channel has capacity one: any number of ingests between two scoring passes
// collapse into a single wake-up.
type symbolState struct {
	symbol string

	mu      sync.Mutex
	windows []*timeframeWindow
	snaps   []*snapshotRing
	venues  *venueActivity
	funding externalScore
	oi      externalScore

	dirty  chan struct{}
	latest atomic.Pointer[models.CascadeSignal]

	// lastLevel is only touched by this symbol's worker.
	lastLevel models.SignalLevel
}

func New(cfg *config.Config, log *logger.Log) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{
		cfg:        cfg.Engine,
		timeframes: timeframesFromConfig(cfg.Engine.Timeframes),
		thresholds: NewThresholdEngine(cfg.Thresholds),
		scorer:     scorer{weights: cfg.Engine.Weights, boost: cfg.Engine.AccelerationBoost},
		venues:     len(cfg.Exchanges),
		log:        log,
		symbols:    make(map[string]*symbolState),
		subs:       make(map[uint64]chan models.CascadeSignal),
		clock:      time.Now,
	}
}

// Start launches the per-symbol workers and the background sweeper. It is an
// error to start a running engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true
	for _, st := range e.symbols {
		e.wg.Add(1)
		go e.symbolWorker(st)
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.sweepLoop()

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"timeframes": len(e.timeframes),
		"venues":     e.venues,
		"tick":       e.cfg.TickInterval.String(),
	}).Info("cascade engine started")
	return nil
}

// Stop cancels all workers, waits for them to drain and closes every
// subscriber channel.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subMu.Unlock()

	e.log.WithComponent("engine").Info("cascade engine stopped")
}

// IngestLiquidation feeds one normalized event into every window of its
// symbol. Malformed events and events older than the out-of-order tolerance
// are counted and dropped; per-event problems never reach the caller.
func (e *Engine) IngestLiquidation(ev models.LiquidationEvent) {
	now := e.clock()

	if reason := validateEvent(ev); reason != "" {
		e.rejectedMalformed.Add(1)
		metrics.IncEventRejected(reason)
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"symbol":   ev.Symbol,
			"exchange": ev.Exchange,
			"reason":   reason,
		}).Debug("dropped malformed liquidation event")
		return
	}
	if now.Sub(ev.Timestamp) > e.cfg.OutOfOrderTolerance {
		e.rejectedLate.Add(1)
		metrics.IncEventRejected("late")
		return
	}

	st := e.state(ev.Symbol)
	st.mu.Lock()
	for _, w := range st.windows {
		if w.insert(ev) {
			e.overflowDrops.Add(1)
		}
	}
	st.venues.observe(ev.Exchange, ev.Timestamp)
	st.mu.Unlock()

	e.ingested.Add(1)
	metrics.IncLiquidationIngested(ev.Exchange)

	select {
	case st.dirty <- struct{}{}:
	default:
	}
}

// UpdateFundingTrend stores the funding confirmation score for symbol.
// Scores are clamped to [0,1]; NaN and infinities are rejected and counted.
func (e *Engine) UpdateFundingTrend(symbol string, score float64) {
	v, ok := clampScore(score)
	if symbol == "" || !ok {
		e.rejectedInputs.Add(1)
		metrics.IncEventRejected("bad_funding_input")
		return
	}
	st := e.state(symbol)
	st.mu.Lock()
	st.funding = externalScore{value: v, updatedAt: e.clock()}
	st.mu.Unlock()
}

// UpdateOIChangeScore stores the open interest confirmation score for symbol
// under the same clamping and staleness rules as funding.
func (e *Engine) UpdateOIChangeScore(symbol string, score float64) {
	v, ok := clampScore(score)
	if symbol == "" || !ok {
		e.rejectedInputs.Add(1)
		metrics.IncEventRejected("bad_oi_input")
		return
	}
	st := e.state(symbol)
	st.mu.Lock()
	st.oi = externalScore{value: v, updatedAt: e.clock()}
	st.mu.Unlock()
}

// UpdateMarketProfile installs fresh market reference data for a symbol and
// rebuilds its cached threshold profile.
func (e *Engine) UpdateMarketProfile(p models.MarketProfile) {
	if p.Symbol == "" {
		e.rejectedInputs.Add(1)
		return
	}
	e.thresholds.UpdateMarketProfile(p, e.clock())
}

// ThresholdProfile exposes the cached threshold profile for a symbol,
// rebuilding it first when it is missing or due for review.
func (e *Engine) ThresholdProfile(symbol string) *AssetProfile {
	return e.thresholds.Profile(symbol, e.clock())
}

// Subscribe registers a fan-out receiver for every produced signal. The
// returned cancel func removes the subscription and closes the channel. A
// slow subscriber loses signals rather than stalling the scorer.
func (e *Engine) Subscribe(buffer int) (<-chan models.CascadeSignal, func()) {
	if buffer <= 0 {
		buffer = e.cfg.SignalBuffer
	}
	ch := make(chan models.CascadeSignal, buffer)

	e.subMu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.subMu.Lock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
			e.subMu.Unlock()
		})
	}
	return ch, cancel
}

// PollLatest returns the most recent signal for symbol without blocking.
func (e *Engine) PollLatest(symbol string) (models.CascadeSignal, bool) {
	e.mu.RLock()
	st := e.symbols[symbol]
	e.mu.RUnlock()
	if st == nil {
		return models.CascadeSignal{}, false
	}
	if sig := st.latest.Load(); sig != nil {
		return *sig, true
	}
	return models.CascadeSignal{}, false
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	active := len(e.symbols)
	e.mu.RUnlock()

	byLevel := make(map[string]uint64, len(e.byLevel))
	for i := range e.byLevel {
		byLevel[models.SignalLevel(i).String()] = e.byLevel[i].Load()
	}

	return Stats{
		ActiveSymbols:     active,
		Ingested:          e.ingested.Load(),
		RejectedLate:      e.rejectedLate.Load(),
		RejectedMalformed: e.rejectedMalformed.Load(),
		RejectedInputs:    e.rejectedInputs.Load(),
		OverflowDrops:     e.overflowDrops.Load(),
		SlowTicks:         e.slowTicks.Load(),
		Published:         e.published.Load(),
		SubscriberDrops:   e.subscriberDrops.Load(),
		SignalsByLevel:    byLevel,
	}
}

func validateEvent(ev models.LiquidationEvent) string {
	switch {
	case ev.Symbol == "":
		return "no_symbol"
	case ev.Exchange == "":
		return "no_exchange"
	case ev.Timestamp.IsZero():
		return "no_timestamp"
	case math.IsNaN(ev.SizeUSD) || math.IsInf(ev.SizeUSD, 0) || ev.SizeUSD <= 0:
		return "bad_size"
	case math.IsNaN(ev.Price) || math.IsInf(ev.Price, 0) || ev.Price <= 0:
		return "bad_price"
	}
	return ""
}

// minEventsFor returns the event count that makes a window informative
// enough to be selected. Sub-second windows amplify a lone event into a
// large per-second rate, so they carry a higher floor; longer windows
// inherit the configured minimum.
func (e *Engine) minEventsFor(tf Timeframe) int {
	if tf.Duration < time.Second && e.cfg.SubSecondMinEvents > e.cfg.MinWindowEvents {
		return e.cfg.SubSecondMinEvents
	}
	return e.cfg.MinWindowEvents
}

func (e *Engine) state(symbol string) *symbolState {
	e.mu.RLock()
	st := e.symbols[symbol]
	e.mu.RUnlock()
	if st != nil {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st = e.symbols[symbol]; st != nil {
		return st
	}

	st = &symbolState{
		symbol:  symbol,
		windows: make([]*timeframeWindow, 0, len(e.timeframes)),
		snaps:   make([]*snapshotRing, 0, len(e.timeframes)),
		venues:  newVenueActivity(e.cfg.CorrelationWindow, e.venues),
		dirty:   make(chan struct{}, 1),
	}
	for _, tf := range e.timeframes {
		st.windows = append(st.windows, newTimeframeWindow(tf))
		st.snaps = append(st.snaps, newSnapshotRing(e.cfg.SnapshotHistory))
	}
	e.symbols[symbol] = st
	metrics.SetActiveSymbols(len(e.symbols))

	if e.running {
		e.wg.Add(1)
		go e.symbolWorker(st)
	}
	return st
}

// symbolWorker serializes all scoring for one symbol: it wakes on fresh data
// and ticks so scores decay while the stream is quiet.
func (e *Engine) symbolWorker(st *symbolState) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-st.dirty:
			e.scoreSymbol(st)
		case <-ticker.C:
			if e.settled(st) {
				continue
			}
			e.scoreSymbol(st)
		}
	}
}

// settled reports whether st has nothing left to decay: every window empty
// and the last published level already NONE.
func (e *Engine) settled(st *symbolState) bool {
	if st.lastLevel != models.LevelNone {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, w := range st.windows {
		if w.size > 0 {
			return false
		}
	}
	return true
}

// scoreSymbol runs one full scoring pass for st: evict, snapshot every
// timeframe, select the shortest informative window, fold the factors and
// publish the resulting signal.
func (e *Engine) scoreSymbol(st *symbolState) models.CascadeSignal {
	started := e.clock()
	now := started

	st.mu.Lock()
	sel := -1
	selCount := 0
	var selected MetricSnapshot
	for i, w := range st.windows {
		w.evict(now)
		count, sum := w.aggregates()
		snap := st.snaps[i].observe(now, velocityOver(count, sum, w.tf.Duration))
		if sel == -1 && count >= e.minEventsFor(w.tf) {
			sel = i
			selCount = count
			selected = snap
		}
		if i == len(st.windows)-1 && sel == -1 {
			// Nothing anywhere: decay passes report on the longest window.
			sel = i
			selCount = count
			selected = snap
		}
	}
	timeframe := ""
	if sel >= 0 {
		timeframe = e.timeframes[sel].Name
	}
	corr, corrActive := st.venues.score(now)
	funding, fundingOK := st.funding.at(now, e.cfg.StalenessBound)
	oi, oiOK := st.oi.at(now, e.cfg.StalenessBound)
	st.mu.Unlock()

	th, _ := e.thresholds.EffectiveThresholds(st.symbol, now)

	probability, level, factors := e.scorer.score(scoreInput{
		Timeframe:    timeframe,
		Events:       selCount,
		Velocity:     selected.EventsPerSecond,
		VolumeRate:   selected.VolumePerSecond,
		Accel:        selected.EventsAccel,
		AccelOK:      selected.AccelOK,
		Correlation:  corr,
		CorrActive:   corrActive,
		Funding:      funding,
		FundingOK:    fundingOK,
		OpenInterest: oi,
		OIOK:         oiOK,
		Thresholds:   th,
	})

	sig := models.CascadeSignal{
		ID:                  uuid.NewString(),
		Symbol:              st.symbol,
		Timestamp:           now,
		Probability:         probability,
		Level:               level,
		ContributingFactors: factors,
		Timeframe:           timeframe,
		Velocity:            selected.EventsPerSecond,
		VolumeRate:          selected.VolumePerSecond,
		Acceleration:        selected.EventsAccel,
		AccelOK:             selected.AccelOK,
		Correlation:         corr,
	}

	if level != st.lastLevel && level > models.LevelNone {
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"symbol":      st.symbol,
			"level":       level.String(),
			"probability": probability,
			"timeframe":   timeframe,
			"factors":     factors,
		}).Info("cascade level changed")
	}

	st.latest.Store(&sig)
	st.lastLevel = level
	e.byLevel[int(level)].Add(1)
	metrics.IncSignal(level.String())

	e.publish(sig)

	elapsed := e.clock().Sub(started)
	metrics.ObserveScoringDuration(elapsed.Seconds())
	if elapsed > e.cfg.SlowTickBudget {
		e.slowTicks.Add(1)
		metrics.IncSlowTick()
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"symbol":  st.symbol,
			"elapsed": elapsed.String(),
			"budget":  e.cfg.SlowTickBudget.String(),
		}).Warn("scoring pass exceeded budget")
	}

	return sig
}

func (e *Engine) publish(sig models.CascadeSignal) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- sig:
		default:
			e.subscriberDrops.Add(1)
			metrics.IncSignalDropped()
			metrics.EmitDropMetric(e.log, metrics.DropMetricSignalFanout, "", sig.Symbol, "fanout")
		}
	}
	e.published.Add(1)
}

// sweepLoop periodically evicts expired events so idle symbols release
// memory even when nothing wakes their worker.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			now := e.clock()
			for _, st := range e.states() {
				st.mu.Lock()
				for _, w := range st.windows {
					w.evict(now)
				}
				st.mu.Unlock()
			}
		}
	}
}

func (e *Engine) states() []*symbolState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*symbolState, 0, len(e.symbols))
	for _, st := range e.symbols {
		out = append(out, st)
	}
	return out
}
