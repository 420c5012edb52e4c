package logger

import (
	"sync"
	"sync/atomic"
)

// LevelCounts holds warn and error totals for one component.
type LevelCounts struct {
	Warns  int64 `json:"warns"`
	Errors int64 `json:"errors"`
}

type levelCounter struct {
	warns  int64
	errors int64
}

var levelCounters sync.Map // map[string]*levelCounter

func counterFor(component string) *levelCounter {
	v, _ := levelCounters.LoadOrStore(component, &levelCounter{})
	return v.(*levelCounter)
}

func recordWarn(component string) {
	atomic.AddInt64(&counterFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&counterFor(component).errors, 1)
}

// CountersSnapshot returns warn and error totals per component. The runtime
// report includes the snapshot so noisy components stand out without grepping
// the log stream.
func CountersSnapshot() map[string]LevelCounts {
	out := make(map[string]LevelCounts)
	levelCounters.Range(func(k, v any) bool {
		c := v.(*levelCounter)
		out[k.(string)] = LevelCounts{
			Warns:  atomic.LoadInt64(&c.warns),
			Errors: atomic.LoadInt64(&c.errors),
		}
		return true
	})
	return out
}
