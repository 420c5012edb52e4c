package engine

import (
	"time"

	"cascadeflow/config"
	"cascadeflow/internal/models"
)

// Timeframe is one configured sliding window over the liquidation stream.
type Timeframe struct {
	Name     string
	Duration time.Duration
	Capacity int
}

func timeframesFromConfig(cfgs []config.TimeframeConfig) []Timeframe {
	out := make([]Timeframe, 0, len(cfgs))
	for _, tf := range cfgs {
		out = append(out, Timeframe{Name: tf.Name, Duration: tf.Duration, Capacity: tf.Capacity})
	}
	return out
}

// timeframeWindow is a bounded, time ordered ring of liquidation events for
// one (symbol, timeframe) pair. Running count and USD sum are maintained on
// insert and evict so velocity reads never rescan the buffer.
//
// The owning symbol state synchronizes access; the window itself holds no
// locks.
type timeframeWindow struct {
	tf     Timeframe
	events []models.LiquidationEvent
	head   int // index of the oldest event
	size   int
	sumUSD float64
}

func newTimeframeWindow(tf Timeframe) *timeframeWindow {
	return &timeframeWindow{
		tf:     tf,
		events: make([]models.LiquidationEvent, tf.Capacity),
	}
}

// at resolves the i-th event counting from the oldest.
func (w *timeframeWindow) at(i int) *models.LiquidationEvent {
	return &w.events[(w.head+i)%len(w.events)]
}

// insert places ev in timestamp order. New events append at the tail;
// in-tolerance late arrivals shift back from the tail until they fit. When
// the ring is full the oldest event is dropped first, regardless of age, and
// the overflow is reported so the caller can count it.
func (w *timeframeWindow) insert(ev models.LiquidationEvent) (overflowed bool) {
	if w.size == len(w.events) {
		w.dropOldest()
		overflowed = true
	}

	pos := w.size
	for pos > 0 && w.at(pos-1).Timestamp.After(ev.Timestamp) {
		pos--
	}
	for i := w.size; i > pos; i-- {
		*w.at(i) = *w.at(i - 1)
	}
	*w.at(pos) = ev

	w.size++
	w.sumUSD += ev.SizeUSD
	return overflowed
}

func (w *timeframeWindow) dropOldest() {
	if w.size == 0 {
		return
	}
	w.sumUSD -= w.events[w.head].SizeUSD
	w.events[w.head] = models.LiquidationEvent{}
	w.head = (w.head + 1) % len(w.events)
	w.size--
	if w.size == 0 {
		// Resync the running sum so float error never accumulates across
		// quiet periods.
		w.sumUSD = 0
	}
}

// evict removes events that have aged out of the window relative to now.
func (w *timeframeWindow) evict(now time.Time) {
	cutoff := now.Add(-w.tf.Duration)
	for w.size > 0 && w.events[w.head].Timestamp.Before(cutoff) {
		w.dropOldest()
	}
}

// aggregates returns the running event count and USD sum. Callers evict
// first so the aggregates only cover in-window events.
func (w *timeframeWindow) aggregates() (int, float64) {
	return w.size, w.sumUSD
}
