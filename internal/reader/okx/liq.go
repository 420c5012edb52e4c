package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	appconfig "cascadeflow/config"
	liq "cascadeflow/internal/channel/liq"
	metrics "cascadeflow/internal/metrics"
	ratemetrics "cascadeflow/internal/metrics/rate"
	"cascadeflow/internal/models"
	"cascadeflow/logger"

	"github.com/gorilla/websocket"
)

// OKX rejects the default Go client string on some edges.
const okxUserAgent = "curl/8.5.0"

// OKX_LIQ_Reader streams the liquidation-orders channel for SWAP instruments.
// OKX publishes all instruments on one subscription, so a single worker feeds
// every configured symbol; filtering happens downstream in the processor.
type OKX_LIQ_Reader struct {
	config   *appconfig.Config
	channels *liq.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	tracker  *ratemetrics.WSWeightTracker
}

// OKX_LIQ_NewReader constructs a new OKX liquidation reader (for SWAP).
func OKX_LIQ_NewReader(cfg *appconfig.Config, ch *liq.Channels) *OKX_LIQ_Reader {
	return &OKX_LIQ_Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		tracker:  ratemetrics.NewWSWeightTracker(),
	}
}

// OKX_LIQ_Start launches the OKX liquidation-orders SWAP stream.
func (r *OKX_LIQ_Reader) OKX_LIQ_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("okx liquidation reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("okx_liq_reader").WithFields(logger.Fields{
		"operation": "OKX_LIQ_Start",
	})

	if !r.config.Feeds.Okx.Liquidations {
		log.Warn("okx swap liquidation stream disabled via configuration")
		return fmt.Errorf("okx swap liquidation stream disabled")
	}

	log.Info("starting okx swap liquidation reader")

	r.wg.Add(1)
	go r.stream()

	log.Info("okx swap liquidation reader started successfully")
	return nil
}

// OKX_LIQ_Stop waits for the OKX worker to stop.
func (r *OKX_LIQ_Reader) OKX_LIQ_Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("okx_liq_reader").Info("stopping okx swap liquidation reader")
	r.wg.Wait()
	r.log.WithComponent("okx_liq_reader").Info("okx swap liquidation reader stopped")
}

// stream redials the public endpoint until the context is cancelled. Each
// cycle is one connection: dial, subscribe, consume until the read fails.
func (r *OKX_LIQ_Reader) stream() {
	defer r.wg.Done()

	log := r.log.WithComponent("okx_liq_reader").WithFields(logger.Fields{
		"worker": "liquidation_orders_stream",
	})

	baseURL := strings.TrimRight(strings.TrimSpace(r.config.Feeds.Okx.WSURL), "/")
	if baseURL == "" {
		baseURL = "wss://ws.okx.com:8443/ws/v5/public"
	}

	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, err := r.dial(baseURL, log)
		if err != nil {
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		r.consume(conn, log)

		select {
		case <-time.After(2 * time.Second):
		case <-r.ctx.Done():
			return
		}
	}
}

// dial opens one websocket connection and requests the liquidation-orders
// SWAP channel. OKX publishes every SWAP instrument on this single
// subscription.
func (r *OKX_LIQ_Reader) dial(baseURL string, log *logger.Entry) (*websocket.Conn, error) {
	header := http.Header{"User-Agent": []string{okxUserAgent}}

	r.tracker.RegisterConnectionAttempt()
	conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, baseURL, header)
	if err != nil {
		log.WithError(err).Warn("failed to connect to okx swap liquidation websocket, retrying")
		return nil, err
	}

	subMsg := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{
				"channel":  "liquidation-orders",
				"instType": "SWAP",
			},
		},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		log.WithError(err).Warn("failed to send okx swap subscription, reconnecting")
		_ = conn.Close()
		return nil, err
	}
	r.tracker.RegisterOutgoing(1)
	return conn, nil
}

// consume pumps one connection until it dies. The ping goroutine keeps the
// edge happy and doubles as the weight report cadence.
func (r *OKX_LIQ_Reader) consume(conn *websocket.Conn, log *logger.Entry) {
	conn.SetReadDeadline(time.Now().Add(35 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(35 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(context.Background())
	defer pingCancel()

	pingTicker := time.NewTicker(20 * time.Second)
	go func() {
		defer pingTicker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.WithError(err).Warn("failed to send okx swap ping")
					pingCancel()
					return
				}
				r.tracker.RegisterOutgoing(1)
				ratemetrics.ReportWSWeight(r.log, "okx_liq_reader", r.tracker, "")
			}
		}
	}()

	for {
		if r.ctx.Err() != nil {
			_ = conn.Close()
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			log.WithError(err).Warn("okx swap liquidation stream error, reconnecting")
			return
		}

		if r.isLiquidationFrame(msg, log) {
			r.forwardMessage(msg, log)
		}
	}
}

// isLiquidationFrame filters one inbound frame down to liquidation-orders
// SWAP data. Subscribe acks are dropped silently; error events feed the
// rate-limit detector before being dropped.
func (r *OKX_LIQ_Reader) isLiquidationFrame(msg []byte, log *logger.Entry) bool {
	var probe struct {
		Arg struct {
			Channel  string `json:"channel"`
			InstType string `json:"instType"`
		} `json:"arg"`
		Event string `json:"event"`
		Code  string `json:"code"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		log.WithError(err).Debug("failed to unmarshal okx probe, skipping message")
		return false
	}
	if probe.Event == "error" {
		log.WithFields(logger.Fields{
			"code": probe.Code,
			"msg":  probe.Msg,
		}).Warn("okx swap stream returned error event")
		ratemetrics.ReportLimitFromMessage(r.log, "okx", "", "", "liquidation", probe.Msg)
		return false
	}
	if probe.Event != "" {
		return false // subscribe ack etc
	}
	return probe.Arg.Channel == "liquidation-orders" && probe.Arg.InstType == "SWAP"
}

func (r *OKX_LIQ_Reader) forwardMessage(payload []byte, log *logger.Entry) {
	data := append([]byte(nil), payload...)

	msg := models.RawLiquidationMessage{
		Exchange:  "okx",
		Market:    "liquidation",
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	if r.channels.SendRaw(r.ctx, msg) {
		metrics.RecordStreamMessage("okx_liq", len(payload))
		log.WithFields(logger.Fields{
			"payload_bytes": len(payload),
		}).Debug("forwarded okx swap liquidation event to raw channel")
	} else if r.ctx.Err() != nil {
		return
	} else {
		metrics.EmitDropMetric(r.log, metrics.DropMetricLiquidationRaw, "okx", "", "raw")
		log.Warn("liquidation raw channel full, dropping okx swap message")
	}
}
