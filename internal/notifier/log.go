package notifier

import (
	"context"
	"strings"

	"cascadeflow/internal/models"
	"cascadeflow/logger"
)

// logSink writes alerts to the structured log. It backs the notifier when no
// external sink is configured and catches alerts whose delivery failed.
type logSink struct {
	log *logger.Log
}

func newLogSink(log *logger.Log) *logSink {
	return &logSink{log: log}
}

func (s *logSink) Name() string { return "log" }

func (s *logSink) Send(_ context.Context, sig models.CascadeSignal) error {
	s.log.WithComponent("alert").WithFields(logger.Fields{
		"signal_id":    sig.ID,
		"symbol":       sig.Symbol,
		"level":        sig.Level.String(),
		"probability":  sig.Probability,
		"timeframe":    sig.Timeframe,
		"velocity":     sig.Velocity,
		"volume_rate":  sig.VolumeRate,
		"acceleration": sig.Acceleration,
		"correlation":  sig.Correlation,
		"factors":      strings.Join(sig.ContributingFactors, ","),
	}).Warn("liquidation cascade alert")
	return nil
}
