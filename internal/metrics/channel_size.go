package metrics

import (
	"context"
	"time"

	"cascadeflow/internal/channel"
	"cascadeflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the raw liquidation,
// derivatives and profile channel buffers. Metrics are logged every `interval`
// until the context is cancelled. When interval <=0, a one-second cadence is
// used.
func StartChannelSizeMetrics(ctx context.Context, flow *channel.Flow, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) {
		return
	}
	if flow == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if flow.Liq != nil {
					SetChannelLength("liq_raw", len(flow.Liq.Raw))
					EmitMetric(log, component, "liq_raw_buffer_length", len(flow.Liq.Raw), "gauge", logger.Fields{
						"buffer":   "liq_raw",
						"capacity": cap(flow.Liq.Raw),
					})
				}
				if flow.Deriv != nil {
					SetChannelLength("deriv_raw", len(flow.Deriv.Raw))
					EmitMetric(log, component, "deriv_raw_buffer_length", len(flow.Deriv.Raw), "gauge", logger.Fields{
						"buffer":   "deriv_raw",
						"capacity": cap(flow.Deriv.Raw),
					})
				}
				if flow.Profile != nil {
					SetChannelLength("profile_raw", len(flow.Profile.Raw))
					EmitMetric(log, component, "profile_raw_buffer_length", len(flow.Profile.Raw), "gauge", logger.Fields{
						"buffer":   "profile_raw",
						"capacity": cap(flow.Profile.Raw),
					})
				}
			}
		}
	}()
}
