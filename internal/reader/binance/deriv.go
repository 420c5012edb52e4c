package binance

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
	"cascadeflow/internal/models"
	"cascadeflow/internal/symbols"
	"cascadeflow/logger"

	"github.com/gorilla/websocket"
)

// Binance_DERIV_Reader streams mark-price updates from Binance futures
// websockets. Each update carries the current funding rate, which feeds the
// funding trend confirmation input.
type Binance_DERIV_Reader struct {
	config   *appconfig.Config
	channels *derivchannel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
}

// Binance_DERIV_NewReader constructs a funding-rate reader for the configured
// symbols.
func Binance_DERIV_NewReader(cfg *appconfig.Config, ch *derivchannel.Channels) *Binance_DERIV_Reader {
	venueSymbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		venueSymbols = append(venueSymbols, symbols.ForExchange("binance", sym))
	}
	return &Binance_DERIV_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  venueSymbols,
	}
}

// Binance_DERIV_Start launches websocket workers per symbol.
func (r *Binance_DERIV_Reader) Binance_DERIV_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance derivatives reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	if !r.config.Feeds.Binance.Funding {
		return fmt.Errorf("binance funding stream disabled via configuration")
	}
	if len(r.symbols) == 0 {
		return fmt.Errorf("no symbols configured for binance derivatives reader")
	}

	for _, sym := range r.symbols {
		symbol := strings.ToUpper(sym)
		r.wg.Add(1)
		go r.streamSymbol(symbol)
	}

	r.log.WithComponent("binance_deriv_reader").WithFields(logger.Fields{
		"symbols": strings.Join(r.symbols, ","),
	}).Info("binance derivatives reader started")
	return nil
}

// Binance_DERIV_Stop waits for all websocket workers to exit.
func (r *Binance_DERIV_Reader) Binance_DERIV_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_deriv_reader").Info("stopping binance derivatives reader")
	r.wg.Wait()
	r.log.WithComponent("binance_deriv_reader").Info("binance derivatives reader stopped")
}

type binanceMarkPricePayload struct {
	Event                string `json:"e"`
	EventTime            int64  `json:"E"`
	Symbol               string `json:"s"`
	MarkPrice            string `json:"p"`
	IndexPrice           string `json:"i"`
	EstimatedSettlePrice string `json:"P"`
	FundingRate          string `json:"r"`
	NextFundingTime      int64  `json:"T"`
}

func (r *Binance_DERIV_Reader) streamSymbol(symbol string) {
	defer r.wg.Done()

	baseURL := strings.TrimSpace(r.config.Feeds.Binance.WSURL)
	if baseURL == "" {
		baseURL = "wss://fstream.binance.com/ws"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	// Funding moves slowly; the default 3s markPrice cadence is plenty.
	endpoint := fmt.Sprintf("%s/%s@markPrice", baseURL, strings.ToLower(symbol))

	log := r.log.WithComponent("binance_deriv_reader").WithFields(logger.Fields{
		"symbol":   symbol,
		"endpoint": endpoint,
	})

	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to binance mark-price websocket")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		for {
			if r.ctx.Err() != nil {
				conn.Close()
				return
			}
			_, raw, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				log.WithError(err).Warn("binance mark-price stream error, reconnecting")
				break
			}
			r.handleMessage(symbol, raw)
		}

		select {
		case <-time.After(5 * time.Second):
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Binance_DERIV_Reader) handleMessage(symbol string, raw []byte) {
	var payload binanceMarkPricePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		r.log.WithComponent("binance_deriv_reader").WithError(err).Debug("failed to decode binance mark-price payload")
		return
	}
	if payload.Event != "markPriceUpdate" {
		return
	}

	eventTime := time.Now().UTC()
	if payload.EventTime > 0 {
		eventTime = time.UnixMilli(payload.EventTime).UTC()
	}

	var nextFunding time.Time
	if payload.NextFundingTime > 0 {
		nextFunding = time.UnixMilli(payload.NextFundingTime).UTC()
	}

	msg := models.RawDerivMessage{
		Exchange:        "binance",
		Symbol:          strings.ToUpper(payload.Symbol),
		Kind:            models.DerivFunding,
		FundingRate:     parseFloat(payload.FundingRate),
		NextFundingTime: nextFunding,
		MarkPrice:       parseFloat(payload.MarkPrice),
		Source:          "binance_ws",
		Timestamp:       eventTime,
		Payload:         append([]byte(nil), raw...),
	}

	if r.channels.SendRaw(r.ctx, msg) {
		metrics.RecordStreamMessage("binance_deriv", len(raw))
	} else if r.ctx.Err() == nil {
		metrics.EmitDropMetric(r.log, metrics.DropMetricDerivRaw, "binance", symbol, "raw")
	}
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
