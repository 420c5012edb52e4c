package kucoin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	appconfig "cascadeflow/config"
	"cascadeflow/internal/channel/liq"

	"github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/futurespublic"
)

func minimalConfig() *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Feeds.Kucoin.Liquidations = true
	return cfg
}

func TestNewReaderTranslatesSymbols(t *testing.T) {
	ch := liq.NewChannels(4)
	defer ch.Close()

	r := Kucoin_LIQ_NewReader(minimalConfig(), ch)
	if r == nil {
		t.Fatal("expected reader instance")
	}

	want := []string{"XBTUSDTM", "ETHUSDTM"}
	if len(r.symbols) != len(want) {
		t.Fatalf("expected %d symbols, got %d", len(want), len(r.symbols))
	}
	for i, sym := range want {
		if r.symbols[i] != sym {
			t.Errorf("symbol %d: expected %s, got %s", i, sym, r.symbols[i])
		}
	}
}

func TestStartRejectsDisabledFeed(t *testing.T) {
	cfg := minimalConfig()
	cfg.Feeds.Kucoin.Liquidations = false

	ch := liq.NewChannels(4)
	defer ch.Close()

	r := Kucoin_LIQ_NewReader(cfg, ch)
	if err := r.Kucoin_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when liquidation feed is disabled")
	}
	r.Kucoin_LIQ_Stop()
}

func TestHandleExecutionFiltersAndForwards(t *testing.T) {
	ch := liq.NewChannels(4)
	defer ch.Close()

	r := Kucoin_LIQ_NewReader(minimalConfig(), ch)
	r.ctx = context.Background()
	r.symbolSet = map[string]struct{}{"XBTUSDTM": {}}

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Ordinary trade executions share the topic, only the subject differs.
	trade := &futurespublic.ExecutionEvent{Symbol: "XBTUSDTM", Ts: ts.UnixMilli()}
	if err := r.handleExecution("/contractMarket/execution:XBTUSDTM", "match", trade); err != nil {
		t.Fatalf("handleExecution returned error: %v", err)
	}

	foreign := &futurespublic.ExecutionEvent{Symbol: "DOGEUSDTM", Ts: ts.UnixMilli()}
	if err := r.handleExecution("/contractMarket/execution:DOGEUSDTM", "liquidation", foreign); err != nil {
		t.Fatalf("handleExecution returned error: %v", err)
	}

	event := &futurespublic.ExecutionEvent{Symbol: "XBTUSDTM", Ts: ts.UnixMilli()}
	if err := r.handleExecution("/contractMarket/execution:XBTUSDTM", "liquidation", event); err != nil {
		t.Fatalf("handleExecution returned error: %v", err)
	}

	select {
	case msg := <-ch.Raw:
		if msg.Exchange != "kucoin" {
			t.Errorf("expected exchange kucoin, got %s", msg.Exchange)
		}
		if msg.Symbol != "XBTUSDTM" {
			t.Errorf("expected symbol XBTUSDTM, got %s", msg.Symbol)
		}
		if !msg.Timestamp.Equal(ts) {
			t.Errorf("expected timestamp %v, got %v", ts, msg.Timestamp)
		}
		var wrapped struct {
			Topic   string `json:"topic"`
			Subject string `json:"subject"`
		}
		if err := json.Unmarshal(msg.Data, &wrapped); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if wrapped.Subject != "liquidation" {
			t.Errorf("expected subject liquidation, got %s", wrapped.Subject)
		}
	default:
		t.Fatal("expected liquidation message on raw channel")
	}

	select {
	case msg := <-ch.Raw:
		t.Fatalf("unexpected extra message: %+v", msg)
	default:
	}
}

func TestKucoinTimestampToTime(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		want time.Time
	}{
		{"seconds", 1_709_294_400, time.Unix(1_709_294_400, 0).UTC()},
		{"millis", 1_709_294_400_123, time.UnixMilli(1_709_294_400_123).UTC()},
		{"nanos", 1_709_294_400_123_456_789, time.Unix(0, 1_709_294_400_123_456_789).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kucoinTimestampToTime(tt.ts)
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
