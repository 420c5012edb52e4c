package rate

import (
	"sync"
	"time"

	"cascadeflow/internal/metrics"
	"cascadeflow/logger"
)

// WSWeightTracker tracks the number of outgoing websocket messages and
// connection attempts for an exchange stream. Exchanges do not charge
// websocket market data against REST limits, but tracking our own message
// and reconnect cadence helps avoid self-induced rate issues.
type WSWeightTracker struct {
	mu       sync.Mutex
	window   time.Time
	msgs     int
	attempts int
}

// NewWSWeightTracker creates a new tracker.
func NewWSWeightTracker() *WSWeightTracker {
	return &WSWeightTracker{window: time.Now()}
}

// RegisterOutgoing records n outgoing client messages (subs/pings).
func (t *WSWeightTracker) RegisterOutgoing(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.window) >= time.Second {
		t.msgs = 0
		t.window = now
	}
	t.msgs += n
}

// RegisterConnectionAttempt records a websocket handshake attempt.
func (t *WSWeightTracker) RegisterConnectionAttempt() {
	t.mu.Lock()
	t.attempts++
	t.mu.Unlock()
}

// Stats returns the current message count within the one second window and the
// total connection attempts.
func (t *WSWeightTracker) Stats() (msgs int, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs = t.msgs
	attempts = t.attempts
	return
}

// ReportWSWeight emits websocket related weight metrics for the component that
// owns the tracker.
func ReportWSWeight(log *logger.Log, component string, t *WSWeightTracker, ip string) {
	msgs, attempts := t.Stats()
	fields := logger.Fields{}
	if ip != "" {
		fields["ip"] = ip
	}
	metrics.EmitMetric(log, component, "outgoing_messages", int64(msgs), "gauge", fields)
	metrics.EmitMetric(log, component, "connection_attempts", int64(attempts), "counter", fields)
}
