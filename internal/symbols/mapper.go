package symbols

import "strings"

// ToCanonical converts exchange-specific contract symbols to the canonical
// concatenated form used across the engine (BTC-USDT-SWAP, XBTUSDTM ->
// BTCUSDT). Binance and Bybit list some contracts with a 1000x multiplier
// prefix; those map back to the plain asset so the same market correlates
// across venues.
func ToCanonical(exchange, sym string) string {
	sym = strings.ToUpper(sym)
	switch strings.ToLower(exchange) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "kucoin":
		sym = strings.ReplaceAll(sym, "-", "")
		sym = strings.TrimSuffix(sym, "M")
		if strings.HasPrefix(sym, "XBT") {
			sym = "BTC" + sym[3:]
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	default:
		// others already use the desired format
	}
	return sym
}

// ForExchange converts a canonical symbol into the venue's subscription
// format. The inverse of ToCanonical for the supported venues.
func ForExchange(exchange, canonical string) string {
	canonical = strings.ToUpper(canonical)
	switch strings.ToLower(exchange) {
	case "binance":
		switch canonical {
		case "BONKUSDT":
			return "1000BONKUSDT"
		case "PEPEUSDT":
			return "1000PEPEUSDT"
		case "SHIBUSDT":
			return "1000SHIBUSDT"
		}
		return canonical
	case "bybit":
		switch canonical {
		case "BONKUSDT":
			return "1000BONKUSDT"
		case "PEPEUSDT":
			return "1000PEPEUSDT"
		case "SHIBUSDT":
			return "SHIB1000USDT"
		}
		return canonical
	case "okx":
		base, quote := splitQuote(canonical)
		if base == "" {
			return canonical + "-SWAP"
		}
		return base + "-" + quote + "-SWAP"
	case "kucoin":
		if strings.HasPrefix(canonical, "BTC") {
			canonical = "XBT" + canonical[3:]
		}
		return canonical + "M"
	default:
		return canonical
	}
}

// quotes ordered longest first so USDT wins over USD for BTCUSDT.
var quotes = []string{"USDT", "USDC", "USD"}

func splitQuote(sym string) (base, quote string) {
	for _, q := range quotes {
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return sym[:len(sym)-len(q)], q
		}
	}
	return "", ""
}
