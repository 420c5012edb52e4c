package bybit

import (
	"context"
	"fmt"
	"time"

	ratemetrics "cascadeflow/internal/metrics/rate"
	"cascadeflow/logger"

	"github.com/gorilla/websocket"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
	defaultReadDeadline   = 35 * time.Second
)

// wsSession describes one public stream subscription: where to dial, which
// topics to request, and which component owns the weight accounting.
type wsSession struct {
	url            string
	topics         []string
	reconnectDelay time.Duration
	component      string
	tracker        *ratemetrics.WSWeightTracker
}

// runBybitWebSocket dials the session endpoint, subscribes to its topics and
// pumps every frame through handler until the context is cancelled. The v5
// public streams are kept alive with JSON op:ping heartbeats; the server
// answers with a text pong, so the read deadline is refreshed on any inbound
// frame rather than on websocket control pongs. Dead connections are redialed
// after the session's reconnect delay.
func runBybitWebSocket(ctx context.Context, s wsSession, log *logger.Entry, handler func(string) error) {
	delay := s.reconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	dialer := websocket.DefaultDialer
	for {
		if ctx.Err() != nil {
			return
		}

		if s.tracker != nil {
			s.tracker.RegisterConnectionAttempt()
		}
		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			log.WithError(err).WithField("url", s.url).Warn("failed to connect to bybit websocket")
			if waitForReconnect(ctx, delay) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(defaultReadDeadline))

		if len(s.topics) > 0 {
			if err := subscribeBybit(conn, s.topics); err != nil {
				log.WithError(err).WithField("url", s.url).Warn("failed to subscribe to bybit topics")
				conn.Close()
				if waitForReconnect(ctx, delay) {
					return
				}
				continue
			}
			if s.tracker != nil {
				s.tracker.RegisterOutgoing(1)
			}
		}

		pingCancel := startHeartbeat(ctx, conn, defaultKeepAlive, log, s)

		if err := readMessages(ctx, conn, handler); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("url", s.url).Warn("bybit websocket read loop ended")
		}

		if pingCancel != nil {
			pingCancel()
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		if waitForReconnect(ctx, delay) {
			return
		}
	}
}

func subscribeBybit(conn *websocket.Conn, topics []string) error {
	req := struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    "subscribe",
		Args:  topics,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	return conn.WriteJSON(req)
}

// readMessages pumps frames into handler. Every successfully read frame,
// including the server's pong replies, pushes the read deadline forward.
func readMessages(ctx context.Context, conn *websocket.Conn, handler func(string) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(defaultReadDeadline))
		if handler != nil {
			_ = handler(string(msg))
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// startHeartbeat sends the v5 JSON ping on the keepalive interval. Websocket
// control pings are not enough here: the v5 edge drops connections that go
// quiet on the application protocol.
func startHeartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry, s wsSession) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					log.WithError(err).Warn("failed to send bybit heartbeat")
					cancel()
					return
				}
				if s.tracker != nil {
					s.tracker.RegisterOutgoing(1)
					ratemetrics.ReportWSWeight(logger.GetLogger(), s.component, s.tracker, "")
				}
			}
		}
	}()
	return cancel
}
