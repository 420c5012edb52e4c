package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	appconfig "cascadeflow/config"
	derivchannel "cascadeflow/internal/channel/deriv"
	metrics "cascadeflow/internal/metrics"
	ratemetrics "cascadeflow/internal/metrics/rate"
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"

	bybit_connector "github.com/bybit-exchange/bybit.go.api"
)

// Bybit_DERIV_Reader streams ticker updates from the Bybit public websocket.
// Each ticker carries funding rate and open interest, which are split into
// separate derivative observations for the confirmation processor.
type Bybit_DERIV_Reader struct {
	config    *appconfig.Config
	channels  *derivchannel.Channels
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
	symbols   []string
	category  string
	symbolSet map[string]struct{}
	ws        *bybit_connector.WebSocket
}

// Bybit_DERIV_NewReader builds a new reader instance.
func Bybit_DERIV_NewReader(cfg *appconfig.Config, ch *derivchannel.Channels) *Bybit_DERIV_Reader {
	venueSymbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		venueSymbols = append(venueSymbols, symbols.ForExchange("bybit", sym))
	}
	return &Bybit_DERIV_Reader{
		config:   cfg,
		channels: ch,
		log:      logger.GetLogger(),
		symbols:  venueSymbols,
	}
}

// Bybit_DERIV_Start establishes the websocket connection and subscriptions.
func (r *Bybit_DERIV_Reader) Bybit_DERIV_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit derivatives reader already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	if !r.config.Feeds.Bybit.Derivatives {
		return fmt.Errorf("bybit derivatives stream disabled via configuration")
	}
	if len(r.symbols) == 0 {
		return fmt.Errorf("no symbols configured for bybit derivatives reader")
	}

	r.category = "linear"

	r.symbolSet = make(map[string]struct{}, len(r.symbols))
	args := make([]string, 0, len(r.symbols))
	for _, sym := range r.symbols {
		symbol := strings.ToUpper(sym)
		r.symbolSet[symbol] = struct{}{}
		args = append(args, fmt.Sprintf("tickers.%s.%s", r.category, symbol))
	}

	wsURL := strings.TrimSpace(r.config.Feeds.Bybit.WSURL)
	if wsURL == "" {
		wsURL = "wss://stream.bybit.com/v5/public/linear"
	}

	handler := func(message string) error {
		return r.handleMessage(message)
	}

	ws := bybit_connector.NewBybitPublicWebSocket(wsURL, handler)
	if ws == nil {
		return fmt.Errorf("failed to create bybit websocket client")
	}

	if ws.Connect() == nil {
		return fmt.Errorf("failed to connect to bybit websocket")
	}

	if _, err := ws.SendSubscription(args); err != nil {
		return fmt.Errorf("failed to subscribe to bybit tickers: %w", err)
	}

	r.ws = ws
	go r.monitorContext()

	r.log.WithComponent("bybit_deriv_reader").WithFields(logger.Fields{
		"symbols":  r.symbols,
		"category": r.category,
	}).Info("bybit derivatives reader started")
	return nil
}

// Bybit_DERIV_Stop disconnects the websocket and cancels background workers.
func (r *Bybit_DERIV_Reader) Bybit_DERIV_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	ws := r.ws
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Disconnect()
	}
	r.log.WithComponent("bybit_deriv_reader").Info("bybit derivatives reader stopped")
}

func (r *Bybit_DERIV_Reader) monitorContext() {
	<-r.ctx.Done()
	r.Bybit_DERIV_Stop()
}

// bybitTickerPayload matches the v5 tickers push. Deltas omit unchanged
// fields, so every string is treated as optional.
type bybitTickerPayload struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Data  struct {
		Symbol            string `json:"symbol"`
		MarkPrice         string `json:"markPrice"`
		IndexPrice        string `json:"indexPrice"`
		OpenInterest      string `json:"openInterest"`
		OpenInterestValue string `json:"openInterestValue"`
		FundingRate       string `json:"fundingRate"`
		NextFundingTime   string `json:"nextFundingTime"`
	} `json:"data"`
}

func (r *Bybit_DERIV_Reader) handleMessage(raw string) error {
	var ack struct {
		Op      string `json:"op"`
		Success bool   `json:"success"`
		RetMsg  string `json:"ret_msg"`
	}
	if err := json.Unmarshal([]byte(raw), &ack); err == nil && ack.Op != "" {
		if !ack.Success {
			r.log.WithComponent("bybit_deriv_reader").WithFields(logger.Fields{
				"op":      ack.Op,
				"message": ack.RetMsg,
			}).Warn("subscription acknowledgement failure")
			ratemetrics.ReportLimitFromMessage(r.log, "bybit", "", "", "derivatives", ack.RetMsg)
		}
		return nil
	}

	var payload bybitTickerPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	if !strings.HasPrefix(payload.Topic, "tickers") {
		return nil
	}

	symbol := strings.ToUpper(payload.Data.Symbol)
	if symbol == "" {
		return nil
	}
	if len(r.symbolSet) > 0 {
		if _, ok := r.symbolSet[symbol]; !ok {
			return nil
		}
	}

	entryTime := time.Now().UTC()
	if payload.Ts > 0 {
		entryTime = time.UnixMilli(payload.Ts).UTC()
	}

	metrics.RecordStreamMessage("bybit_deriv", len(raw))

	markPrice, _ := strconv.ParseFloat(payload.Data.MarkPrice, 64)
	source := fmt.Sprintf("bybit_%s_ws", r.category)

	if payload.Data.FundingRate != "" {
		funding, err := strconv.ParseFloat(payload.Data.FundingRate, 64)
		if err == nil {
			var nextFunding time.Time
			if ts, err := strconv.ParseInt(payload.Data.NextFundingTime, 10, 64); err == nil && ts > 0 {
				nextFunding = time.UnixMilli(ts).UTC()
			}
			r.send(models.RawDerivMessage{
				Exchange:        "bybit",
				Symbol:          symbol,
				Kind:            models.DerivFunding,
				FundingRate:     funding,
				NextFundingTime: nextFunding,
				MarkPrice:       markPrice,
				Source:          source,
				Timestamp:       entryTime,
				Payload:         append([]byte(nil), []byte(raw)...),
			})
		}
	}

	if payload.Data.OpenInterest != "" || payload.Data.OpenInterestValue != "" {
		oi, _ := strconv.ParseFloat(payload.Data.OpenInterest, 64)
		oiUSD, _ := strconv.ParseFloat(payload.Data.OpenInterestValue, 64)
		if oi > 0 || oiUSD > 0 {
			r.send(models.RawDerivMessage{
				Exchange:        "bybit",
				Symbol:          symbol,
				Kind:            models.DerivOpenInterest,
				OpenInterest:    oi,
				OpenInterestUSD: oiUSD,
				MarkPrice:       markPrice,
				Source:          source,
				Timestamp:       entryTime,
				Payload:         append([]byte(nil), []byte(raw)...),
			})
		}
	}

	return nil
}

func (r *Bybit_DERIV_Reader) send(msg models.RawDerivMessage) {
	if !r.channels.SendRaw(r.ctx, msg) {
		if r.ctx.Err() != nil {
			return
		}
		metrics.EmitDropMetric(r.log, metrics.DropMetricDerivRaw, "bybit", msg.Symbol, "raw")
		r.log.WithComponent("bybit_deriv_reader").WithFields(logger.Fields{
			"symbol": msg.Symbol,
			"kind":   string(msg.Kind),
		}).Warn("dropping bybit derivative message due to saturated channel")
	}
}
