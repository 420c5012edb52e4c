package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	appconfig "cascadeflow/config"
	liq "cascadeflow/internal/channel/liq"
	metrics "cascadeflow/internal/metrics"
	ratemetrics "cascadeflow/internal/metrics/rate"
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"
)

// Bybit_LIQ_Reader streams liquidation orders from the Bybit v5 public linear
// websocket.
type Bybit_LIQ_Reader struct {
	config   *appconfig.Config
	channels *liq.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	tracker  *ratemetrics.WSWeightTracker
}

// Bybit_LIQ_NewReader constructs a new Bybit liquidation reader.
func Bybit_LIQ_NewReader(cfg *appconfig.Config, ch *liq.Channels) *Bybit_LIQ_Reader {
	venueSymbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		venueSymbols = append(venueSymbols, symbols.ForExchange("bybit", sym))
	}
	return &Bybit_LIQ_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  venueSymbols,
		tracker:  ratemetrics.NewWSWeightTracker(),
	}
}

// Bybit_LIQ_Start launches websocket subscriptions for each configured symbol.
func (r *Bybit_LIQ_Reader) Bybit_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{
		"operation": "Bybit_LIQ_Start",
	})

	if !r.config.Feeds.Bybit.Liquidations {
		log.Warn("bybit futures liquidation stream disabled via configuration")
		return fmt.Errorf("bybit futures liquidation stream disabled")
	}
	if len(r.symbols) == 0 {
		log.Warn("no symbols configured for bybit liquidation reader")
		return fmt.Errorf("no symbols configured for bybit liquidation reader")
	}

	log.WithFields(logger.Fields{
		"symbols": strings.Join(r.symbols, ","),
	}).Info("starting bybit liquidation reader")

	for _, symbol := range r.symbols {
		sym := strings.ToUpper(strings.TrimSpace(symbol))
		if sym == "" {
			continue
		}
		r.wg.Add(1)
		go r.streamSymbol(sym)
	}

	log.Info("bybit liquidation reader started successfully")
	return nil
}

// Bybit_LIQ_Stop waits for all symbol workers to stop.
func (r *Bybit_LIQ_Reader) Bybit_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("bybit_liq_reader").Info("stopping bybit liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_liq_reader").Info("bybit liquidation reader stopped")
}

func (r *Bybit_LIQ_Reader) streamSymbol(symbol string) {
	defer r.wg.Done()

	log := r.log.WithComponent("bybit_liq_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "liquidation_stream",
	})

	baseURL := strings.TrimRight(strings.TrimSpace(r.config.Feeds.Bybit.WSURL), "/")
	if baseURL == "" {
		baseURL = "wss://stream.bybit.com/v5/public/linear"
	}

	topic := fmt.Sprintf("allLiquidation.%s", symbol)

	handler := func(raw string) error {
		// quick filter: subscription acks and heartbeats carry no topic
		var probe struct {
			Topic   string `json:"topic"`
			Op      string `json:"op"`
			Success *bool  `json:"success"`
			RetMsg  string `json:"ret_msg"`
		}
		if err := json.Unmarshal([]byte(raw), &probe); err != nil {
			log.WithError(err).Debug("failed to unmarshal bybit probe, skipping message")
			return nil
		}
		if probe.Op != "" && probe.Success != nil && !*probe.Success {
			log.WithFields(logger.Fields{
				"op":      probe.Op,
				"message": probe.RetMsg,
			}).Warn("bybit request rejected")
			ratemetrics.ReportLimitFromMessage(r.log, "bybit", symbol, "", "liquidation", probe.RetMsg)
			return nil
		}
		if !strings.HasPrefix(probe.Topic, "allLiquidation.") {
			return nil
		}
		r.forwardMessage([]byte(raw), symbol, log)
		return nil
	}

	runBybitWebSocket(r.ctx, wsSession{
		url:            baseURL,
		topics:         []string{topic},
		reconnectDelay: defaultReconnectDelay,
		component:      "bybit_liq_reader",
		tracker:        r.tracker,
	}, log, handler)
}

func (r *Bybit_LIQ_Reader) forwardMessage(payload []byte, symbol string, log *logger.Entry) {
	data := append([]byte(nil), payload...)

	msg := models.RawLiquidationMessage{
		Exchange:  "bybit",
		Symbol:    symbol,
		Market:    "liquidation",
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	if r.channels.SendRaw(r.ctx, msg) {
		metrics.RecordStreamMessage("bybit_liq", len(payload))
		log.WithFields(logger.Fields{
			"payload_bytes": len(payload),
		}).Debug("forwarded bybit liquidation event to raw channel")
	} else if r.ctx.Err() != nil {
		return
	} else {
		metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "bybit", symbol, "raw")
		log.Warn("liquidation raw channel full, dropping bybit message")
	}
}
