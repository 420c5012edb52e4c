// Registers the cascadeflow Prometheus collectors:
//
//	#cascadeflow_liquidations_ingested_total
//	#cascadeflow_events_rejected_total
//	#cascadeflow_signals_total
//	#go_* and process_* system metrics
//
// and exposes them over the Prometheus HTTP handler on the configured listen
// address.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	liquidationsIngested *prometheus.CounterVec
	eventsRejected       *prometheus.CounterVec
	signalsProduced      *prometheus.CounterVec
	signalFanoutDrops    prometheus.Counter
	slowScoringTicks     prometheus.Counter
	scoringDuration      prometheus.Histogram
	activeSymbols        prometheus.Gauge
	channelLength        *prometheus.GaugeVec
	channelDrops         *prometheus.CounterVec
	notificationsSent    *prometheus.CounterVec
	archiveBatches       *prometheus.CounterVec
	archivedSignals      prometheus.Counter
	usedWeight           *prometheus.GaugeVec
)

// Init registers the collectors and serves them on listen ("host:port").
// Only the first call takes effect.
func Init(listen string) {
	once.Do(func() {
		liquidationsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascadeflow_liquidations_ingested_total",
				Help: "Normalized liquidation events accepted by the engine",
			},
			[]string{"exchange"},
		)

		eventsRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascadeflow_events_rejected_total",
				Help: "Events and inputs dropped before reaching the windows",
			},
			[]string{"reason"},
		)

		signalsProduced = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascadeflow_signals_total",
				Help: "Cascade signals produced, by severity level",
			},
			[]string{"level"},
		)

		signalFanoutDrops = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascadeflow_signal_fanout_drops_total",
			Help: "Signals dropped because a subscriber buffer was full",
		})

		slowScoringTicks = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascadeflow_slow_scoring_ticks_total",
			Help: "Scoring passes that exceeded the per-tick budget",
		})

		scoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cascadeflow_scoring_duration_seconds",
			Help:    "Wall time of one scoring pass",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		})

		activeSymbols = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascadeflow_active_symbols",
			Help: "Symbols with engine state allocated",
		})

		channelLength = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cascadeflow_channel_buffer_length",
				Help: "Current occupancy of the raw data channels",
			},
			[]string{"channel"},
		)

		channelDrops = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascadeflow_channel_drops_total",
				Help: "Messages dropped on full channel buffers",
			},
			[]string{"stream"},
		)

		notificationsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascadeflow_notifications_total",
				Help: "Alert notifications by sink and outcome",
			},
			[]string{"sink", "outcome"},
		)

		archiveBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascadeflow_archive_batches_total",
				Help: "Signal archive batch uploads by outcome",
			},
			[]string{"outcome"},
		)

		archivedSignals = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascadeflow_archived_signals_total",
			Help: "Signals written to the parquet archive",
		})

		usedWeight = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cascadeflow_rest_used_weight",
				Help: "Most recent request weight reported by an exchange REST API",
			},
			[]string{"exchange"},
		)

		_ = prometheus.Register(liquidationsIngested)
		_ = prometheus.Register(eventsRejected)
		_ = prometheus.Register(signalsProduced)
		_ = prometheus.Register(signalFanoutDrops)
		_ = prometheus.Register(slowScoringTicks)
		_ = prometheus.Register(scoringDuration)
		_ = prometheus.Register(activeSymbols)
		_ = prometheus.Register(channelLength)
		_ = prometheus.Register(channelDrops)
		_ = prometheus.Register(notificationsSent)
		_ = prometheus.Register(archiveBatches)
		_ = prometheus.Register(archivedSignals)
		_ = prometheus.Register(usedWeight)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if listen == "" {
			listen = "0.0.0.0:2112"
		}

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(listen, mux); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncLiquidationIngested counts one accepted liquidation event.
func IncLiquidationIngested(exchange string) {
	if liquidationsIngested != nil {
		liquidationsIngested.WithLabelValues(exchange).Inc()
	}
}

// IncEventRejected counts one dropped event or pushed input.
func IncEventRejected(reason string) {
	if eventsRejected != nil {
		eventsRejected.WithLabelValues(reason).Inc()
	}
}

// IncSignal counts one produced cascade signal.
func IncSignal(level string) {
	if signalsProduced != nil {
		signalsProduced.WithLabelValues(level).Inc()
	}
}

// IncSignalDropped counts one signal lost to a full subscriber buffer.
func IncSignalDropped() {
	if signalFanoutDrops != nil {
		signalFanoutDrops.Inc()
	}
}

// IncSlowTick counts one scoring pass over budget.
func IncSlowTick() {
	if slowScoringTicks != nil {
		slowScoringTicks.Inc()
	}
}

// ObserveScoringDuration records the wall time of one scoring pass.
func ObserveScoringDuration(seconds float64) {
	if scoringDuration != nil {
		scoringDuration.Observe(seconds)
	}
}

// SetActiveSymbols tracks how many symbols have live engine state.
func SetActiveSymbols(n int) {
	if activeSymbols != nil {
		activeSymbols.Set(float64(n))
	}
}

// SetChannelLength records the current occupancy of a raw channel buffer.
func SetChannelLength(channel string, length int) {
	if channelLength != nil {
		channelLength.WithLabelValues(channel).Set(float64(length))
	}
}

// IncChannelDrop counts one message lost on a full channel buffer.
func IncChannelDrop(stream string) {
	if channelDrops != nil {
		channelDrops.WithLabelValues(stream).Inc()
	}
}

// IncNotification counts one alert delivery attempt.
func IncNotification(sink, outcome string) {
	if notificationsSent != nil {
		notificationsSent.WithLabelValues(sink, outcome).Inc()
	}
}

// IncArchiveBatch counts one archive upload attempt.
func IncArchiveBatch(outcome string) {
	if archiveBatches != nil {
		archiveBatches.WithLabelValues(outcome).Inc()
	}
}

// AddArchivedSignals counts signals flushed to the parquet archive.
func AddArchivedSignals(n int) {
	if archivedSignals != nil {
		archivedSignals.Add(float64(n))
	}
}

// SetUsedWeight records the request weight consumed against an exchange REST
// quota.
func SetUsedWeight(exchange string, weight float64) {
	if usedWeight != nil {
		usedWeight.WithLabelValues(exchange).Set(weight)
	}
}
