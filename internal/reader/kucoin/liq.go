package kucoin

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
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"

	"github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	"github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/futurespublic"
	"github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
)

const kucoinFuturesEndpoint = "https://api-futures.kucoin.com"

// Kucoin_LIQ_Reader streams liquidation executions from KuCoin futures. The
// public execution feed carries every match; liquidations are identified by
// the message subject.
type Kucoin_LIQ_Reader struct {
	config        *appconfig.Config
	channels      *liq.Channels
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.RWMutex
	running       bool
	log           *logger.Log
	symbols       []string
	symbolSet     map[string]struct{}
	client        api.Client
	ws            futurespublic.FuturesPublicWS
	subscriptions map[string]string
}

// executionEnvelope is the wire shape forwarded to the processor: the SDK
// event nested under data with the routing metadata alongside.
type executionEnvelope struct {
	Topic   string                       `json:"topic"`
	Subject string                       `json:"subject"`
	Data    futurespublic.ExecutionEvent `json:"data"`
}

// Kucoin_LIQ_NewReader creates a new reader instance. Canonical symbols are
// translated to the venue's contract codes up front.
func Kucoin_LIQ_NewReader(cfg *appconfig.Config, ch *liq.Channels) *Kucoin_LIQ_Reader {
	venueSymbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		venueSymbols = append(venueSymbols, symbols.ForExchange("kucoin", sym))
	}
	return &Kucoin_LIQ_Reader{
		config:   cfg,
		channels: ch,
		log:      logger.GetLogger(),
		symbols:  venueSymbols,
	}
}

// Kucoin_LIQ_Start establishes websocket subscriptions. It fails when no
// execution subscription could be established at all, since a reader without
// subscriptions would silently starve the detector of a venue.
func (r *Kucoin_LIQ_Reader) Kucoin_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("kucoin liquidation reader already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	log := r.log.WithComponent("kucoin_liq_reader").WithFields(logger.Fields{"operation": "Kucoin_LIQ_Start"})

	if !r.config.Feeds.Kucoin.Liquidations {
		log.Warn("kucoin futures liquidation stream disabled via configuration")
		return fmt.Errorf("kucoin futures liquidation stream disabled")
	}
	if len(r.symbols) == 0 {
		log.Warn("no symbols configured for kucoin liquidation reader")
		return fmt.Errorf("no symbols configured for kucoin liquidation reader")
	}

	r.symbolSet = make(map[string]struct{}, len(r.symbols))
	for _, sym := range r.symbols {
		r.symbolSet[strings.ToUpper(sym)] = struct{}{}
	}

	client, ws, err := r.newFuturesSocket(log)
	if err != nil {
		return err
	}

	subs := r.subscribeExecutions(ws, log)
	if len(subs) == 0 {
		ws.Stop()
		log.Error("all kucoin execution subscriptions failed")
		return fmt.Errorf("all kucoin execution subscriptions failed")
	}

	r.mu.Lock()
	r.client = client
	r.ws = ws
	r.subscriptions = subs
	r.mu.Unlock()

	log.WithFields(logger.Fields{"symbols": r.symbols, "subscriptions": len(subs)}).Info("kucoin liquidation reader started")
	go r.monitorContext()
	return nil
}

// newFuturesSocket builds the SDK client and brings up the public futures
// websocket service.
func (r *Kucoin_LIQ_Reader) newFuturesSocket(log *logger.Entry) (api.Client, futurespublic.FuturesPublicWS, error) {
	wsOptionBuilder := types.NewWebSocketClientOptionBuilder()
	wsOptionBuilder.WithEventCallback(func(event types.WebSocketEvent, msg string) {
		if event == types.EventErrorReceived || event == types.EventClientFail {
			log.WithFields(logger.Fields{"event": event.String(), "message": msg}).Warn("kucoin websocket event")
		}
	})

	clientOption := types.NewClientOptionBuilder().
		WithFuturesEndpoint(kucoinFuturesEndpoint).
		WithWebSocketClientOption(wsOptionBuilder.Build()).
		Build()

	client := api.NewClient(clientOption)
	ws := client.WsService().NewFuturesPublicWS()
	if ws == nil {
		log.Error("failed to create kucoin futures websocket client")
		return nil, nil, fmt.Errorf("failed to create kucoin futures websocket client")
	}
	if err := ws.Start(); err != nil {
		log.WithError(err).Error("failed to start kucoin websocket service")
		return nil, nil, fmt.Errorf("failed to start kucoin websocket service: %w", err)
	}
	return client, ws, nil
}

// subscribeExecutions attaches the execution callback for every venue symbol
// and returns the subscription ids that succeeded.
func (r *Kucoin_LIQ_Reader) subscribeExecutions(ws futurespublic.FuturesPublicWS, log *logger.Entry) map[string]string {
	subs := make(map[string]string, len(r.symbols))
	for _, sym := range r.symbols {
		symbol := sym
		id, err := ws.Execution(symbol, func(topic, subject string, data *futurespublic.ExecutionEvent) error {
			return r.handleExecution(topic, subject, data)
		})
		if err != nil {
			log.WithError(err).WithField("symbol", symbol).Error("failed to subscribe to kucoin execution stream")
			continue
		}
		subs[strings.ToUpper(symbol)] = id
	}
	return subs
}

// Kucoin_LIQ_Stop cancels subscriptions and shuts down the websocket.
func (r *Kucoin_LIQ_Reader) Kucoin_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	ws := r.ws
	subs := r.subscriptions
	r.mu.Unlock()

	r.log.WithComponent("kucoin_liq_reader").Info("stopping kucoin liquidation reader")
	if cancel != nil {
		cancel()
	}
	if ws != nil {
		for _, id := range subs {
			if id != "" {
				ws.UnSubscribe(id)
			}
		}
		ws.Stop()
	}
	r.log.WithComponent("kucoin_liq_reader").Info("kucoin liquidation reader stopped")
}

func (r *Kucoin_LIQ_Reader) monitorContext() {
	<-r.ctx.Done()
	r.Kucoin_LIQ_Stop()
}

func (r *Kucoin_LIQ_Reader) handleExecution(topic, subject string, data *futurespublic.ExecutionEvent) error {
	if data == nil {
		return nil
	}

	// Every match arrives on the execution topic; the subject separates
	// liquidations from ordinary trades.
	if !strings.Contains(strings.ToLower(subject), "liquid") {
		return nil
	}

	symbol := strings.ToUpper(data.Symbol)
	if len(r.symbolSet) > 0 {
		if _, ok := r.symbolSet[symbol]; !ok {
			return nil
		}
	}

	clone := *data
	clone.CommonResponse = nil

	raw, err := json.Marshal(executionEnvelope{Topic: topic, Subject: subject, Data: clone})
	if err != nil {
		r.log.WithComponent("kucoin_liq_reader").WithError(err).Warn("failed to marshal kucoin liquidation event")
		return nil
	}

	msg := models.RawLiquidationMessage{
		Exchange:  "kucoin",
		Symbol:    symbol,
		Market:    "liquidation",
		Data:      raw,
		Timestamp: kucoinTimestampToTime(data.Ts),
	}

	if r.channels.SendRaw(r.ctx, msg) {
		metrics.RecordStreamMessage("kucoin_liq", len(raw))
		return nil
	}
	if r.ctx.Err() != nil {
		return nil
	}
	metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "kucoin", symbol, "raw")
	r.log.WithComponent("kucoin_liq_reader").WithFields(logger.Fields{"symbol": symbol}).Warn("liquidation raw channel full, dropping message")
	return nil
}

// kucoinTimestampToTime guesses the unit of a venue timestamp. KuCoin mixes
// seconds, milliseconds and nanoseconds across endpoints.
func kucoinTimestampToTime(ts int64) time.Time {
	switch {
	case ts <= 0:
		return time.Now().UTC()
	case ts < 1_000_000_000_000:
		return time.Unix(ts, 0).UTC()
	case ts < 1_000_000_000_000_000:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(0, ts).UTC()
	}
}
