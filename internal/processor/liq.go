package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appconfig "cascadeflow/config"
	liqchannel "cascadeflow/internal/channel/liq"
	"cascadeflow/internal/engine"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"
)

// statsInterval is the cadence at which every processor reports its counters.
const statsInterval = time.Minute

// LiquidationProcessor normalizes raw liquidation payloads from all exchange
// readers and feeds the resulting events into the cascade engine.
type LiquidationProcessor struct {
	config        *appconfig.Config
	channels      *liqchannel.Channels
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

// NewLiquidationProcessor builds the processor instance. The configured
// symbol list (canonical names) becomes the ingest filter; an empty list
// admits everything.
func NewLiquidationProcessor(cfg *appconfig.Config, ch *liqchannel.Channels, eng *engine.Engine) *LiquidationProcessor {
	symSet := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symSet[strings.ToUpper(s)] = struct{}{}
	}

	return &LiquidationProcessor{
		config:        cfg,
		channels:      ch,
		engine:        eng,
		wg:            &sync.WaitGroup{},
		log:           logger.GetLogger(),
		symbols:       symSet,
		filterSymbols: len(symSet) > 0,
	}
}

// Start begins consuming raw liquidation messages.
func (p *LiquidationProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("liquidation processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("liq_processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting liquidation processor")

	workers := p.config.Processor.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.reporter()
	return nil
}

// Stop waits for the workers to drain.
func (p *LiquidationProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("liq_processor").Info("stopping liquidation processor")
	p.wg.Wait()
	p.log.WithComponent("liq_processor").Info("liquidation processor stopped")
}

func (p *LiquidationProcessor) worker(id int) {
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

func (p *LiquidationProcessor) handleMessage(raw models.RawLiquidationMessage) {
	atomic.AddInt64(&p.processed, 1)

	var (
		events []models.LiquidationEvent
		ok     bool
	)

	switch raw.Exchange {
	case "binance":
		events, ok = normalizeBinanceLiq(raw)
	case "bybit":
		events, ok = normalizeBybitLiq(raw)
	case "kucoin":
		events, ok = normalizeKucoinLiq(raw)
	case "okx":
		events, ok = normalizeOkxLiq(raw)
	default:
		atomic.AddInt64(&p.errors, 1)
		p.log.WithComponent("liq_processor").WithFields(logger.Fields{
			"exchange": raw.Exchange,
		}).Debug("unsupported liquidation exchange, dropping message")
		return
	}

	if !ok {
		atomic.AddInt64(&p.errors, 1)
		metrics.IncEventRejected("parse")
		p.log.WithComponent("liq_processor").WithFields(logger.Fields{
			"exchange": raw.Exchange,
			"symbol":   raw.Symbol,
		}).Debug("unparseable liquidation payload, dropping message")
		return
	}

	for _, ev := range events {
		if p.filterSymbols {
			if _, want := p.symbols[ev.Symbol]; !want {
				atomic.AddInt64(&p.filtered, 1)
				continue
			}
		}
		p.engine.IngestLiquidation(ev)
		atomic.AddInt64(&p.emitted, 1)
	}
}

func (p *LiquidationProcessor) reporter() {
	defer p.wg.Done()
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportProcessor(p.log, "liq_processor", metrics.ProcessorStats{
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

// sideFromOrder maps the forced order's side to the position it closed: a
// sell order liquidates a long, a buy order liquidates a short.
func sideFromOrder(orderSide string) models.Side {
	if strings.EqualFold(orderSide, "buy") {
		return models.SideShort
	}
	return models.SideLong
}

// eventTime converts an exchange millisecond timestamp, falling back to the
// receive time when the feed omitted it.
func eventTime(ms int64, received time.Time) time.Time {
	if ms <= 0 {
		return received
	}
	return time.UnixMilli(ms).UTC()
}

func normalizeBinanceLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	type binanceOrder struct {
		EventTime int64 `json:"E"`
		Order     struct {
			Symbol    string `json:"s"`
			Side      string `json:"S"`
			Qty       string `json:"q"`
			Price     string `json:"p"`
			AvgPrice  string `json:"ap"`
			FilledQty string `json:"z"`
			TradeTime int64  `json:"T"`
		} `json:"o"`
	}
	var evt binanceOrder
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}
	price := parseFloat(evt.Order.AvgPrice)
	if price == 0 {
		price = parseFloat(evt.Order.Price)
	}
	qty := parseFloat(evt.Order.FilledQty)
	if qty == 0 {
		qty = parseFloat(evt.Order.Qty)
	}
	if evt.Order.Symbol == "" || price <= 0 || qty <= 0 {
		return nil, false
	}
	ms := evt.Order.TradeTime
	if ms == 0 {
		ms = evt.EventTime
	}
	return []models.LiquidationEvent{{
		Symbol:    symbols.ToCanonical(raw.Exchange, evt.Order.Symbol),
		Exchange:  raw.Exchange,
		Side:      sideFromOrder(evt.Order.Side),
		SizeUSD:   price * qty,
		Price:     price,
		Timestamp: eventTime(ms, raw.Timestamp),
	}}, true
}

// normalizeBybitLiq handles allLiquidation frames, which carry a batch of
// executions per message. Entries with missing numbers are skipped without
// failing the whole frame.
func normalizeBybitLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	type bybitFrame struct {
		Topic string `json:"topic"`
		Ts    int64  `json:"ts"`
		Data  []struct {
			Time   int64  `json:"T"`
			Symbol string `json:"s"`
			Side   string `json:"S"`
			Size   string `json:"v"`
			Price  string `json:"p"`
		} `json:"data"`
	}
	var evt bybitFrame
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}
	events := make([]models.LiquidationEvent, 0, len(evt.Data))
	for _, d := range evt.Data {
		price := parseFloat(d.Price)
		qty := parseFloat(d.Size)
		if d.Symbol == "" || price <= 0 || qty <= 0 {
			continue
		}
		ms := d.Time
		if ms == 0 {
			ms = evt.Ts
		}
		events = append(events, models.LiquidationEvent{
			Symbol:    symbols.ToCanonical(raw.Exchange, d.Symbol),
			Exchange:  raw.Exchange,
			Side:      sideFromOrder(d.Side),
			SizeUSD:   price * qty,
			Price:     price,
			Timestamp: eventTime(ms, raw.Timestamp),
		})
	}
	return events, true
}

func normalizeKucoinLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	// The SDK serializes size and price with exchange-dependent types, so
	// both are parsed leniently.
	type kucoinPayload struct {
		Subject string `json:"subject"`
		Data    struct {
			Symbol string          `json:"symbol"`
			Side   string          `json:"side"`
			Size   json.RawMessage `json:"size"`
			Price  json.RawMessage `json:"price"`
		} `json:"data"`
	}
	var evt kucoinPayload
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}
	price := parseRawFloat(evt.Data.Price)
	size := parseRawFloat(evt.Data.Size)
	if evt.Data.Symbol == "" || price <= 0 || size <= 0 {
		return nil, false
	}
	// Size is in contracts; notional is best effort until contract
	// multipliers are wired per instrument.
	return []models.LiquidationEvent{{
		Symbol:    symbols.ToCanonical(raw.Exchange, evt.Data.Symbol),
		Exchange:  raw.Exchange,
		Side:      sideFromOrder(evt.Data.Side),
		SizeUSD:   price * size,
		Price:     price,
		Timestamp: raw.Timestamp,
	}}, true
}

// normalizeOkxLiq handles liquidation-orders frames: each frame carries a
// batch of instruments, each with a batch of fill details. posSide names the
// liquidated side directly when present.
func normalizeOkxLiq(raw models.RawLiquidationMessage) ([]models.LiquidationEvent, bool) {
	type okxFrame struct {
		Data []struct {
			InstID  string `json:"instId"`
			Details []struct {
				Side    string `json:"side"`
				PosSide string `json:"posSide"`
				Size    string `json:"sz"`
				Price   string `json:"bkPx"`
				Ts      string `json:"ts"`
			} `json:"details"`
		} `json:"data"`
	}
	var evt okxFrame
	if err := json.Unmarshal(raw.Data, &evt); err != nil {
		return nil, false
	}
	var events []models.LiquidationEvent
	for _, d := range evt.Data {
		if d.InstID == "" {
			continue
		}
		symbol := symbols.ToCanonical(raw.Exchange, d.InstID)
		for _, det := range d.Details {
			price := parseFloat(det.Price)
			qty := parseFloat(det.Size)
			if price <= 0 || qty <= 0 {
				continue
			}
			side := sideFromOrder(det.Side)
			switch strings.ToLower(det.PosSide) {
			case "long":
				side = models.SideLong
			case "short":
				side = models.SideShort
			}
			events = append(events, models.LiquidationEvent{
				Symbol:    symbol,
				Exchange:  raw.Exchange,
				Side:      side,
				SizeUSD:   price * qty,
				Price:     price,
				Timestamp: eventTime(parseInt64(det.Ts), raw.Timestamp),
			})
		}
	}
	return events, true
}

func parseFloat(v string) float64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return val
}

func parseInt64(v string) int64 {
	if v == "" {
		return 0
	}
	val, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return val
}

// parseRawFloat reads a JSON value that may arrive as a number or a quoted
// string.
func parseRawFloat(raw json.RawMessage) float64 {
	return parseFloat(strings.Trim(strings.TrimSpace(string(raw)), `"`))
}
