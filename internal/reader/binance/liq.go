package binance

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

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
)

// Binance_LIQ_Reader streams forced liquidation orders from the Binance
// futures websocket API and forwards raw payloads to the liquidation channel.
type Binance_LIQ_Reader struct {
	config   *appconfig.Config
	channels *liq.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
}

// Binance_LIQ_NewReader constructs a new liquidation reader. The configured
// canonical symbols are translated into Binance contract names up front.
func Binance_LIQ_NewReader(cfg *appconfig.Config, ch *liq.Channels) *Binance_LIQ_Reader {
	venueSymbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		venueSymbols = append(venueSymbols, symbols.ForExchange("binance", sym))
	}
	return &Binance_LIQ_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  venueSymbols,
	}
}

// Binance_LIQ_Start launches one combined websocket subscription carrying the
// forceOrder stream of every configured symbol. The subscription is restarted
// automatically until the context is cancelled.
func (r *Binance_LIQ_Reader) Binance_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{"operation": "Binance_LIQ_Start"})

	if !r.config.Feeds.Binance.Liquidations {
		log.Warn("binance futures liquidation stream disabled via configuration")
		return fmt.Errorf("binance futures liquidation stream disabled")
	}
	if len(r.symbols) == 0 {
		log.Warn("no symbols configured for binance liquidation reader")
		return fmt.Errorf("no symbols configured for binance liquidation reader")
	}

	// The library ping-pongs the server for us on every stream.
	futures.WebsocketKeepalive = true

	streamSymbols := make([]string, 0, len(r.symbols))
	for _, symbol := range r.symbols {
		streamSymbols = append(streamSymbols, strings.ToUpper(symbol))
	}

	log.WithFields(logger.Fields{"symbols": strings.Join(streamSymbols, ",")}).Info("starting binance liquidation reader")

	r.wg.Add(1)
	go r.streamAll(streamSymbols)

	log.Info("binance liquidation reader started successfully")
	return nil
}

// Binance_LIQ_Stop waits for all symbol workers to stop.
func (r *Binance_LIQ_Reader) Binance_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_liq_reader").Info("stopping binance liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("binance_liq_reader").Info("binance liquidation reader stopped")
}

// streamAll keeps a combined forceOrder subscription alive for all symbols.
// A single connection is enough: forced orders are rare even across a full
// watchlist, so fan-out per symbol would only multiply reconnect churn.
func (r *Binance_LIQ_Reader) streamAll(streamSymbols []string) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_liq_reader").WithFields(logger.Fields{
		"worker":  "liquidation_stream",
		"streams": len(streamSymbols),
	})

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	for {
		if r.ctx.Err() != nil {
			return
		}

		doneC, stopC, err := futures.WsCombinedLiquidationOrderServe(streamSymbols, r.forwardEvent(log), errHandler)
		if err != nil {
			log.WithError(err).Error("failed to subscribe to combined liquidation stream")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		select {
		case <-r.ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			log.Warn("liquidation stream closed, reconnecting")
			close(stopC)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// forwardEvent builds the handler that re-marshals a forced order event and
// pushes it onto the raw liquidation channel.
func (r *Binance_LIQ_Reader) forwardEvent(log *logger.Entry) func(*futures.WsLiquidationOrderEvent) {
	return func(event *futures.WsLiquidationOrderEvent) {
		payload, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Warn("failed to marshal liquidation event")
			return
		}

		symbol := strings.ToUpper(event.LiquidationOrder.Symbol)
		msg := models.RawLiquidationMessage{
			Exchange:  "binance",
			Symbol:    symbol,
			Market:    "liquidation",
			Data:      payload,
			Timestamp: time.UnixMilli(event.Time).UTC(),
		}

		if r.channels.SendRaw(r.ctx, msg) {
			metrics.RecordStreamMessage("binance_liq", len(payload))
			if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				log.WithFields(logger.Fields{
					"symbol":        symbol,
					"payload_bytes": len(payload),
					"side":          event.LiquidationOrder.Side,
				}).Debug("forwarded liquidation event to raw channel")
			}
			return
		}
		if r.ctx.Err() != nil {
			return
		}
		metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "binance", symbol, "raw")
		log.Warn("liquidation raw channel full, dropping message")
	}
}
