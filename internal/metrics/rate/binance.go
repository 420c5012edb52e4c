package rate

import (
	"context"
	"net/http"
	"strconv"

	futures "github.com/adshao/go-binance/v2/futures"

	"cascadeflow/internal/metrics"
	"cascadeflow/logger"
)

// FetchRequestWeightLimit queries Binance exchangeInfo endpoint to retrieve the
// REQUEST_WEIGHT per minute limit. It returns 0 if the limit cannot be
// determined.
func FetchRequestWeightLimit(ctx context.Context, client *futures.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			return rl.Limit, nil
		}
	}
	return 0, nil
}

// ReportUsedWeight parses the used weight from Binance HTTP response headers
// and emits a `used_weight_1m` gauge for the given component. Binance has
// renamed the header over time so both variants are checked. Returns the
// parsed weight and whether a metric was recorded.
func ReportUsedWeight(log *logger.Log, component string, header http.Header, ip string) (int64, bool) {
	usedStr := header.Get("X-MBX-USED-WEIGHT-1M")
	if usedStr == "" {
		usedStr = header.Get("X-MBX-USED-WEIGHT")
	}
	if usedStr == "" {
		return 0, false
	}

	used, err := strconv.ParseInt(usedStr, 10, 64)
	if err != nil {
		log.WithComponent(component).WithFields(logger.Fields{"value": usedStr}).WithError(err).Debug("failed to parse used weight header")
		return 0, false
	}

	fields := logger.Fields{"exchange": "binance"}
	if ip != "" {
		fields["ip"] = ip
	}

	metrics.SetUsedWeight("binance", float64(used))
	metrics.EmitMetric(log, component, "used_weight_1m", used, "gauge", fields)
	return used, true
}
