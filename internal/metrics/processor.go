package metrics

import "cascadeflow/logger"

// ProcessorStats holds counters for a normalizing processor worker pool.
type ProcessorStats struct {
	MessagesProcessed int64
	EventsEmitted     int64
	ErrorsCount       int64
	FilteredOut       int64
	RawChannelLen     int
	RawChannelCap     int
}

// ReportProcessor emits common processor metrics using the provided logger and
// component name. Called on the processor's stats ticker.
func ReportProcessor(log *logger.Log, component string, stats ProcessorStats) {
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.MessagesProcessed+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.MessagesProcessed+stats.ErrorsCount)
	}

	EmitMetric(log, component, "messages_processed", stats.MessagesProcessed, "counter", logger.Fields{})
	EmitMetric(log, component, "events_emitted", stats.EventsEmitted, "counter", logger.Fields{})
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", logger.Fields{})
	EmitMetric(log, component, "error_rate", errorRate, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"messages_processed": stats.MessagesProcessed,
		"events_emitted":     stats.EventsEmitted,
		"errors_count":       stats.ErrorsCount,
		"error_rate":         errorRate,
		"filtered_out":       stats.FilteredOut,
		"raw_channel_len":    stats.RawChannelLen,
		"raw_channel_cap":    stats.RawChannelCap,
	}).Info("processor metrics")
}
