package processor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appconfig "cascadeflow/config"
	derivchannel "cascadeflow/internal/channel/deriv"
	"cascadeflow/internal/engine"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"
)

// DerivProcessor turns funding and open interest observations into the [0,1]
// confirmation scores the engine consumes. Both scores measure change between
// consecutive observations against a configurable reference scale, so the
// first observation per symbol only seeds the baseline.
type DerivProcessor struct {
	config        *appconfig.Config
	channels      *derivchannel.Channels
	engine        *engine.Engine
	ctx           context.Context
	wg            *sync.WaitGroup
	mu            sync.RWMutex
	running       bool
	log           *logger.Log
	symbols       map[string]struct{}
	filterSymbols bool

	// Baselines are owned by the single worker goroutine, no lock needed.
	funding map[string]float64
	oi      map[string]float64

	processed int64
	emitted   int64
	errors    int64
	filtered  int64
}

func NewDerivProcessor(cfg *appconfig.Config, ch *derivchannel.Channels, eng *engine.Engine) *DerivProcessor {
	symSet := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symSet[strings.ToUpper(s)] = struct{}{}
	}

	return &DerivProcessor{
		config:        cfg,
		channels:      ch,
		engine:        eng,
		wg:            &sync.WaitGroup{},
		log:           logger.GetLogger(),
		symbols:       symSet,
		filterSymbols: len(symSet) > 0,
		funding:       make(map[string]float64),
		oi:            make(map[string]float64),
	}
}

// Start begins consuming derivative observations.
func (p *DerivProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("deriv processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("deriv_processor").WithFields(logger.Fields{"operation": "start"}).
		Info("starting derivatives processor")

	p.wg.Add(2)
	go p.worker()
	go p.reporter()
	return nil
}

// Stop waits for the worker to drain.
func (p *DerivProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("deriv_processor").Info("stopping derivatives processor")
	p.wg.Wait()
	p.log.WithComponent("deriv_processor").Info("derivatives processor stopped")
}

func (p *DerivProcessor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *DerivProcessor) handleMessage(msg models.RawDerivMessage) {
	atomic.AddInt64(&p.processed, 1)

	symbol := symbols.ToCanonical(msg.Exchange, msg.Symbol)
	if symbol == "" {
		atomic.AddInt64(&p.errors, 1)
		return
	}
	if p.filterSymbols {
		if _, want := p.symbols[symbol]; !want {
			atomic.AddInt64(&p.filtered, 1)
			return
		}
	}

	switch msg.Kind {
	case models.DerivFunding:
		p.handleFunding(symbol, msg)
	case models.DerivOpenInterest:
		p.handleOpenInterest(symbol, msg)
	default:
		atomic.AddInt64(&p.errors, 1)
		p.log.WithComponent("deriv_processor").WithFields(logger.Fields{
			"exchange": msg.Exchange,
			"kind":     string(msg.Kind),
		}).Debug("unsupported derivative observation kind")
	}
}

func (p *DerivProcessor) handleFunding(symbol string, msg models.RawDerivMessage) {
	if math.IsNaN(msg.FundingRate) || math.IsInf(msg.FundingRate, 0) {
		atomic.AddInt64(&p.errors, 1)
		return
	}

	prev, seen := p.funding[symbol]
	p.funding[symbol] = msg.FundingRate
	if !seen {
		return
	}

	score := math.Abs(msg.FundingRate-prev) / p.config.Processor.FundingDeltaReference
	if score > 1 {
		score = 1
	}
	p.engine.UpdateFundingTrend(symbol, score)
	atomic.AddInt64(&p.emitted, 1)
}

func (p *DerivProcessor) handleOpenInterest(symbol string, msg models.RawDerivMessage) {
	oi := msg.OpenInterestUSD
	if oi == 0 && msg.OpenInterest > 0 && msg.MarkPrice > 0 {
		oi = msg.OpenInterest * msg.MarkPrice
	}
	if oi == 0 {
		oi = msg.OpenInterest
	}
	if oi <= 0 || math.IsNaN(oi) || math.IsInf(oi, 0) {
		atomic.AddInt64(&p.errors, 1)
		return
	}

	prev, seen := p.oi[symbol]
	p.oi[symbol] = oi
	if !seen || prev <= 0 {
		return
	}

	changePct := math.Abs(oi-prev) / prev * 100
	score := changePct / p.config.Processor.OIChangePctReference
	if score > 1 {
		score = 1
	}
	p.engine.UpdateOIChangeScore(symbol, score)
	atomic.AddInt64(&p.emitted, 1)
}

func (p *DerivProcessor) reporter() {
	defer p.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportProcessor(p.log, "deriv_processor", metrics.ProcessorStats{
				MessagesProcessed: atomic.LoadInt64(&p.processed),
				EventsEmitted:     atomic.LoadInt64(&p.emitted),
				ErrorsCount:       atomic.LoadInt64(&p.errors),
				FilteredOut:       atomic.LoadInt64(&p.filtered),
				RawChannelLen:     len(p.channels.Raw),
				RawChannelCap:     cap(p.channels.Raw),
			})
		}
	}
}
