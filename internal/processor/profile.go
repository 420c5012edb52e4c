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
	profilechannel "cascadeflow/internal/channel/profile"
	"cascadeflow/internal/engine"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"
)

// ProfileProcessor turns 24h market statistics into the market profiles the
// dynamic threshold engine tiers assets with. Market caps come from static
// config overrides; a missing override leaves the cap at zero so the engine
// falls back to volume tiering.
type ProfileProcessor struct {
	config        *appconfig.Config
	channels      *profilechannel.Channels
	engine        *engine.Engine
	ctx           context.Context
	wg            *sync.WaitGroup
	mu            sync.RWMutex
	running       bool
	log           *logger.Log
	symbols       map[string]struct{}
	filterSymbols bool

	processed int64
	emitted   int64
	errors    int64
	filtered  int64
}

func NewProfileProcessor(cfg *appconfig.Config, ch *profilechannel.Channels, eng *engine.Engine) *ProfileProcessor {
	symSet := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symSet[strings.ToUpper(s)] = struct{}{}
	}

	return &ProfileProcessor{
		config:        cfg,
		channels:      ch,
		engine:        eng,
		wg:            &sync.WaitGroup{},
		log:           logger.GetLogger(),
		symbols:       symSet,
		filterSymbols: len(symSet) > 0,
	}
}

// Start begins consuming profile observations.
func (p *ProfileProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("profile processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	p.log.WithComponent("profile_processor").WithFields(logger.Fields{"operation": "start"}).
		Info("starting profile processor")

	p.wg.Add(2)
	go p.worker()
	go p.reporter()
	return nil
}

// Stop waits for the worker to drain.
func (p *ProfileProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("profile_processor").Info("stopping profile processor")
	p.wg.Wait()
	p.log.WithComponent("profile_processor").Info("profile processor stopped")
}

func (p *ProfileProcessor) worker() {
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

func (p *ProfileProcessor) handleMessage(msg models.RawProfileMessage) {
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
	if msg.QuoteVolume24h < 0 || math.IsNaN(msg.QuoteVolume24h) || math.IsInf(msg.QuoteVolume24h, 0) {
		atomic.AddInt64(&p.errors, 1)
		return
	}

	volatility := math.Abs(msg.PriceChangePct24h) / p.config.Processor.TypicalDailyMovePct
	if math.IsNaN(volatility) || math.IsInf(volatility, 0) {
		volatility = 0
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p.engine.UpdateMarketProfile(models.MarketProfile{
		Symbol:            symbol,
		MarketCapUSD:      p.config.Thresholds.MarketCapOverrides[symbol],
		AvgDailyVolumeUSD: msg.QuoteVolume24h,
		VolatilityScore:   volatility,
		UpdatedAt:         ts,
	})
	atomic.AddInt64(&p.emitted, 1)
}

func (p *ProfileProcessor) reporter() {
	defer p.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportProcessor(p.log, "profile_processor", metrics.ProcessorStats{
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
