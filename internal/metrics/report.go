package metrics

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch

	"cascadeflow/logger"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var streams sync.Map // map[string]*streamStat

// RecordStreamMessage counts one inbound message of `size` bytes on the named
// stream. Readers call this per websocket frame or REST page so the runtime
// report can show per-stream throughput.
func RecordStreamMessage(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	st := v.(*streamStat)
	atomic.AddInt64(&st.messages, 1)
	atomic.AddInt64(&st.bytes, int64(size))
}

// EngineSnapshot carries the detector counters included in each runtime
// report. main wires it to the engine's Stats method; keeping the struct here
// avoids an import cycle between the engine and metrics packages.
type EngineSnapshot struct {
	ActiveSymbols     int
	Ingested          uint64
	RejectedLate      uint64
	RejectedMalformed uint64
	RejectedInputs    uint64
	OverflowDrops     uint64
	SlowTicks         uint64
	Published         uint64
	SubscriberDrops   uint64
	SignalsByLevel    map[string]uint64
}

// StartReport begins periodic logging of system, stream and detector
// statistics. Each tick emits one "runtime report" log line and, when
// CloudWatch is configured, a batch of metric data with a component=report
// dimension. snapshot may be nil when no engine is attached.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration, snapshot func() EngineSnapshot) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log, snapshot)
			}
		}
	}()
}

func logReport(ctx context.Context, log *logger.Log, snapshot func() EngineSnapshot) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*streamStat)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&st.messages),
			"bytes":    atomic.LoadInt64(&st.bytes),
		}
		return true
	})

	var warns, errors int64
	counters := logger.CountersSnapshot()
	for _, c := range counters {
		warns += c.Warns
		errors += c.Errors
	}

	var snap EngineSnapshot
	if snapshot != nil {
		snap = snapshot()
	}

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := logger.Fields{
		"warns":                 warns,
		"errors":                errors,
		"counters":              counters,
		"streams":               streamData,
		"active_symbols":        snap.ActiveSymbols,
		"liquidations_ingested": snap.Ingested,
		"rejected_late":         snap.RejectedLate,
		"rejected_malformed":    snap.RejectedMalformed,
		"rejected_inputs":       snap.RejectedInputs,
		"overflow_drops":        snap.OverflowDrops,
		"slow_ticks":            snap.SlowTicks,
		"signals_published":     snap.Published,
		"subscriber_drops":      snap.SubscriberDrops,
		"signals_by_level":      snap.SignalsByLevel,
		"goroutines":            runtime.NumGoroutine(),
		"cpu_percent":           cpuPct,
		"memory_mb":             int64(memStats.Used) / 1024 / 1024,
		"disk_mb":               int64(diskStats.Used) / 1024 / 1024,
		"net_bytes_sent":        int64(bytesSent),
		"net_bytes_recv":        int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	componentDim := cwtypes.Dimension{Name: aws.String("component"), Value: aws.String("report")}
	datum := func(name string, unit cwtypes.StandardUnit, value float64, extra ...cwtypes.Dimension) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       unit,
			Value:      aws.Float64(value),
			Dimensions: append([]cwtypes.Dimension{componentDim}, extra...),
		}
	}

	data := []cwtypes.MetricDatum{
		datum("cpu_percent", cwtypes.StandardUnitPercent, cpuPct),
		datum("memory_mb", cwtypes.StandardUnitMegabytes, float64(memStats.Used)/1024/1024),
		datum("disk_mb", cwtypes.StandardUnitMegabytes, float64(diskStats.Used)/1024/1024),
		datum("goroutines", cwtypes.StandardUnitCount, float64(runtime.NumGoroutine())),
		datum("warns", cwtypes.StandardUnitCount, float64(warns)),
		datum("errors", cwtypes.StandardUnitCount, float64(errors)),
		datum("net_bytes_sent", cwtypes.StandardUnitBytes, float64(bytesSent)),
		datum("net_bytes_recv", cwtypes.StandardUnitBytes, float64(bytesRecv)),
		datum("active_symbols", cwtypes.StandardUnitCount, float64(snap.ActiveSymbols)),
		datum("liquidations_ingested", cwtypes.StandardUnitCount, float64(snap.Ingested)),
		datum("events_rejected", cwtypes.StandardUnitCount, float64(snap.RejectedLate+snap.RejectedMalformed+snap.RejectedInputs)),
		datum("overflow_drops", cwtypes.StandardUnitCount, float64(snap.OverflowDrops)),
		datum("subscriber_drops", cwtypes.StandardUnitCount, float64(snap.SubscriberDrops)),
	}

	for level, count := range snap.SignalsByLevel {
		data = append(data, datum("signals_produced", cwtypes.StandardUnitCount, float64(count),
			cwtypes.Dimension{Name: aws.String("level"), Value: aws.String(level)}))
	}

	for name, stats := range streamData {
		streamDim := cwtypes.Dimension{Name: aws.String("stream"), Value: aws.String(name)}
		data = append(data,
			datum("stream_messages", cwtypes.StandardUnitCount, float64(stats["messages"]), streamDim),
			datum("stream_bytes", cwtypes.StandardUnitBytes, float64(stats["bytes"]), streamDim),
		)
	}

	publishMetrics(ctx, state, data)
}
