package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"cascadeflow/logger"
)

// resourceSnapshot captures a single sample of host level resource
// utilisation.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskUsed    uint64    `json:"disk_used"`
	DiskTotal   uint64    `json:"disk_total"`
	DiskPct     float64   `json:"disk_percent"`
}

// Collector functions are variables so tests can substitute deterministic
// samplers without touching the host.
var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
)

// resourceSampler polls host CPU, memory and disk utilisation on a fixed
// cadence and keeps a bounded history for the dashboard.
type resourceSampler struct {
	mu       sync.RWMutex
	items    []resourceSnapshot
	limit    int
	interval time.Duration
	diskPath string

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

func newResourceSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *resourceSampler {
	if limit <= 0 {
		limit = 200
	}
	if interval <= 0 {
		interval = time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{
		limit:    limit,
		interval: interval,
		diskPath: diskPath,
		log:      log,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil {
		return
	}
	if s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	if cancel := s.cancel; cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *resourceSampler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		snapshot, err := s.collect(ctx)
		if err != nil {
			s.log.WithComponent("resource_sampler").WithError(err).Debug("resource sample failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
			continue
		}
		s.append(snapshot)
	}
}

// collect gathers one sample. The CPU reading blocks for the sampling
// interval, which also paces the loop.
func (s *resourceSampler) collect(ctx context.Context) (resourceSnapshot, error) {
	cpuSamples, err := cpuPercentFn(ctx, s.interval)
	if err != nil {
		return resourceSnapshot{}, err
	}

	memStats, err := memoryStatsFn(ctx)
	if err != nil {
		return resourceSnapshot{}, err
	}

	diskStats, err := diskUsageFn(ctx, s.diskPath)
	if err != nil {
		return resourceSnapshot{}, err
	}

	cpuPct := float64(0)
	if len(cpuSamples) > 0 {
		cpuPct = cpuSamples[0]
	}

	return resourceSnapshot{
		Timestamp:   time.Now(),
		CPUPercent:  cpuPct,
		MemoryUsed:  memStats.Used,
		MemoryTotal: memStats.Total,
		MemoryPct:   memStats.UsedPercent,
		DiskUsed:    diskStats.Used,
		DiskTotal:   diskStats.Total,
		DiskPct:     diskStats.UsedPercent,
	}, nil
}

func (s *resourceSampler) append(snapshot resourceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, snapshot)
	if len(s.items) > s.limit {
		s.items = append([]resourceSnapshot(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resourceSnapshot, len(s.items))
	copy(out, s.items)
	return out
}

// latest returns the most recent sample, if any.
func (s *resourceSampler) latest() (resourceSnapshot, bool) {
	if s == nil {
		return resourceSnapshot{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 {
		return resourceSnapshot{}, false
	}
	return s.items[len(s.items)-1], true
}
