package metrics

import (
	"testing"

	"cascadeflow/logger"
)

func TestReportProcessorMetrics(t *testing.T) {
	log := logger.GetLogger()
	stats := ProcessorStats{
		MessagesProcessed: 10,
		EventsEmitted:     8,
		ErrorsCount:       1,
		FilteredOut:       1,
		RawChannelLen:     3,
		RawChannelCap:     100,
	}
	ReportProcessor(log, "liq_processor", stats)
}

func TestReportWriterMetrics(t *testing.T) {
	log := logger.GetLogger()
	stats := WriterStats{
		BatchesWritten: 2,
		FilesWritten:   2,
		BytesWritten:   4096,
		ErrorsCount:    0,
		PendingSignals: 5,
	}
	ReportWriter(log, "signal_writer", stats)
}

func TestPrometheusHelpersBeforeInit(t *testing.T) {
	// All helpers must be safe to call before Init wires the registry.
	IncLiquidationIngested("binance")
	IncEventRejected("late")
	IncSignal("ALERT")
	IncSignalDropped()
	IncSlowTick()
	ObserveScoringDuration(0.002)
	SetActiveSymbols(3)
	SetChannelLength("liq_raw", 7)
	IncChannelDrop("liquidation_messages_dropped")
	IncNotification("telegram", "sent")
	IncArchiveBatch("ok")
	AddArchivedSignals(12)
	SetUsedWeight("binance", 240)
}

func TestFeatureGates(t *testing.T) {
	if IsFeatureEnabled(FeatureChannelSize) {
		t.Fatal("channel size feature should be disabled by default")
	}

	EnableFeature(FeatureChannelSize)
	if !IsFeatureEnabled(FeatureChannelSize) {
		t.Fatal("channel size feature should be enabled after EnableFeature")
	}
	if IsFeatureEnabled(FeatureUsedWeight) {
		t.Fatal("enabling one feature must not enable others")
	}

	EnableFeature(FeatureUsedWeight)
	if !IsFeatureEnabled(FeatureUsedWeight) {
		t.Fatal("used weight feature should be enabled after EnableFeature")
	}
}
