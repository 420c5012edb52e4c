package metrics

import "cascadeflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricLiquidationRaw records dropped liquidation stream messages.
	DropMetricLiquidationRaw DropMetric = "liquidation_messages_dropped"
	// DropMetricDerivRaw records dropped funding/open-interest stream messages.
	DropMetricDerivRaw DropMetric = "deriv_messages_dropped"
	// DropMetricProfileRaw records dropped market profile messages.
	DropMetricProfileRaw DropMetric = "profile_messages_dropped"
	// DropMetricSignalFanout records cascade signals dropped on slow subscriber channels.
	DropMetricSignalFanout DropMetric = "signal_fanout_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel message. The
// metric value is always incremented by one so callers should invoke this helper for
// each dropped message. Optional metadata (exchange, symbol, stage) is added to the
// metric fields when provided which enables downstream aggregation per exchange and
// stream type.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, symbol, stage string) {
	fields := logger.Fields{"stream": string(metric)}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	IncChannelDrop(string(metric))
	EmitMetric(log, "channels", "channel_drops", 1, "counter", fields)
}
