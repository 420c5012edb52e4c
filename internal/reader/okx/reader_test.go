package okx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cascadeflow/config"
	liqchan "cascadeflow/internal/channel/liq"

	"github.com/gorilla/websocket"
)

func minimalConfig() *config.Config {
	return &config.Config{
		Symbols: []string{"BTCUSDT"},
		Feeds: config.FeedsConfig{
			Okx: config.OkxFeedConfig{Liquidations: true},
		},
	}
}

func TestNewReader(t *testing.T) {
	r := OKX_LIQ_NewReader(minimalConfig(), liqchan.NewChannels(1))
	if r == nil {
		t.Fatal("OKX_LIQ_NewReader returned nil")
	}
}

func TestStartRejectsDisabledFeed(t *testing.T) {
	cfg := minimalConfig()
	cfg.Feeds.Okx.Liquidations = false

	r := OKX_LIQ_NewReader(cfg, liqchan.NewChannels(1))
	if err := r.OKX_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when liquidation feed is disabled")
	}
}

func TestReaderFiltersAcksAndForwardsData(t *testing.T) {
	upgrader := websocket.Upgrader{}
	event := `{"arg":{"channel":"liquidation-orders","instType":"SWAP"},` +
		`"data":[{"instId":"BTC-USDT-SWAP","details":[{"side":"buy","posSide":"short","sz":"12","bkPx":"50000","ts":"1700000000000"}]}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("User-Agent") != okxUserAgent {
			http.Error(w, "unexpected user agent", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"liquidation-orders","instType":"SWAP"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","code":"60018","msg":"Too Many Requests"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"tickers","instType":"SWAP"},"data":[]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(event))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := minimalConfig()
	cfg.Feeds.Okx.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ch := liqchan.NewChannels(4)
	r := OKX_LIQ_NewReader(cfg, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.OKX_LIQ_Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case msg := <-ch.Raw:
		if msg.Exchange != "okx" {
			t.Fatalf("unexpected exchange %q", msg.Exchange)
		}
		if string(msg.Data) != event {
			t.Fatalf("payload not forwarded verbatim: %s", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for liquidation message")
	}

	// the ack, error event and foreign channel frame must not have been forwarded
	select {
	case msg := <-ch.Raw:
		t.Fatalf("unexpected extra message: %+v", msg)
	default:
	}

	cancel()
	r.OKX_LIQ_Stop()
}
