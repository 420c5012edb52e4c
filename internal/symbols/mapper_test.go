package symbols

import "testing"

func TestToCanonical(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"kucoin", "XBT-USDTM", "BTCUSDT"},
		{"kucoin", "XBTUSDTM", "BTCUSDT"},
		{"kucoin", "ETHUSDTM", "ETHUSDT"},
		{"okx", "BTC-USDT-SWAP", "BTCUSDT"},
		{"okx", "SOL-USDT-SWAP", "SOLUSDT"},
		{"binance", "ETHUSDT", "ETHUSDT"},
		{"binance", "1000BONKUSDT", "BONKUSDT"},
		{"binance", "1000PEPEUSDT", "PEPEUSDT"},
		{"binance", "1000SHIBUSDT", "SHIBUSDT"},
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"bybit", "1000BONKUSDT", "BONKUSDT"},
		{"bybit", "1000PEPEUSDT", "PEPEUSDT"},
		{"bybit", "btcusdt", "BTCUSDT"},
	}
	for _, tt := range tests {
		if got := ToCanonical(tt.exchange, tt.in); got != tt.want {
			t.Errorf("ToCanonical(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestForExchange(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"binance", "BTCUSDT", "BTCUSDT"},
		{"binance", "PEPEUSDT", "1000PEPEUSDT"},
		{"bybit", "SHIBUSDT", "SHIB1000USDT"},
		{"bybit", "ETHUSDT", "ETHUSDT"},
		{"okx", "BTCUSDT", "BTC-USDT-SWAP"},
		{"okx", "SOLUSDT", "SOL-USDT-SWAP"},
		{"kucoin", "BTCUSDT", "XBTUSDTM"},
		{"kucoin", "ETHUSDT", "ETHUSDTM"},
	}
	for _, tt := range tests {
		if got := ForExchange(tt.exchange, tt.in); got != tt.want {
			t.Errorf("ForExchange(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, exchange := range []string{"binance", "bybit", "okx", "kucoin"} {
		for _, canonical := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
			venue := ForExchange(exchange, canonical)
			if got := ToCanonical(exchange, venue); got != canonical {
				t.Errorf("%s: %s -> %s -> %s, want %s", exchange, canonical, venue, got, canonical)
			}
		}
	}
}
