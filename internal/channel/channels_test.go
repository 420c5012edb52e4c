package channel

import (
	"context"
	"testing"
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/models"
)

func TestSendRawAndDrop(t *testing.T) {
	flow := NewFlow(config.ChannelsConfig{RawBuffer: 1, DerivBuffer: 1, ProfileBuffer: 1})
	ctx := context.Background()

	msg := models.RawLiquidationMessage{Exchange: "binance", Symbol: "BTCUSDT", Timestamp: time.Now()}
	if !flow.Liq.SendRaw(ctx, msg) {
		t.Fatal("send into an empty buffer should succeed")
	}
	if flow.Liq.SendRaw(ctx, msg) {
		t.Fatal("send into a full buffer should be dropped")
	}

	stats := flow.Liq.GetStats()
	if stats.RawSent != 1 || stats.RawDropped != 1 {
		t.Fatalf("expected 1 sent / 1 dropped, got %+v", stats)
	}

	select {
	case got := <-flow.Liq.Raw:
		if got.Exchange != "binance" {
			t.Fatalf("unexpected exchange %q", got.Exchange)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the accepted message")
	}
}

func TestFlowWiresAllStreams(t *testing.T) {
	flow := NewFlow(config.ChannelsConfig{RawBuffer: 2, DerivBuffer: 3, ProfileBuffer: 4})

	if cap(flow.Liq.Raw) != 2 || cap(flow.Deriv.Raw) != 3 || cap(flow.Profile.Raw) != 4 {
		t.Fatal("channel capacities should follow the config")
	}

	ctx := context.Background()
	if !flow.Deriv.SendRaw(ctx, models.RawDerivMessage{Exchange: "bybit", Symbol: "BTCUSDT", Kind: models.DerivFunding, Timestamp: time.Now()}) {
		t.Fatal("deriv send should succeed")
	}
	if !flow.Profile.SendRaw(ctx, models.RawProfileMessage{Exchange: "binance", Symbol: "BTCUSDT", Timestamp: time.Now()}) {
		t.Fatal("profile send should succeed")
	}

	flow.Close()
	if _, ok := <-flow.Liq.Raw; ok {
		t.Fatal("liq channel should be closed after Flow.Close")
	}
	if msg, ok := <-flow.Deriv.Raw; !ok || msg.Kind != models.DerivFunding {
		t.Fatal("buffered deriv message should drain after close")
	}
}
