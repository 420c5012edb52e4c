package engine

import (
	"testing"
	"time"

	"cascadeflow/internal/models"
)

var testBase = time.Date(2026, time.March, 4, 15, 0, 0, 0, time.UTC)

func liqEvent(ts time.Time, sizeUSD float64) models.LiquidationEvent {
	return models.LiquidationEvent{
		Symbol:    "BTCUSDT",
		Exchange:  "binance",
		Side:      models.SideLong,
		SizeUSD:   sizeUSD,
		Price:     50000,
		Timestamp: ts,
	}
}

func TestWindowAggregatesTrackInserts(t *testing.T) {
	w := newTimeframeWindow(Timeframe{Name: "burst", Duration: 2 * time.Second, Capacity: 10})

	for i := 0; i < 5; i++ {
		w.insert(liqEvent(testBase.Add(time.Duration(i)*100*time.Millisecond), 1000))
	}

	count, sum := w.aggregates()
	if count != 5 {
		t.Fatalf("expected 5 events, got %d", count)
	}
	if sum != 5000 {
		t.Fatalf("expected sum 5000, got %f", sum)
	}
}

func TestWindowEvictsAgedEvents(t *testing.T) {
	w := newTimeframeWindow(Timeframe{Name: "burst", Duration: 2 * time.Second, Capacity: 10})

	w.insert(liqEvent(testBase, 100))
	w.insert(liqEvent(testBase.Add(1*time.Second), 200))
	w.insert(liqEvent(testBase.Add(3*time.Second), 400))

	w.evict(testBase.Add(3 * time.Second))

	count, sum := w.aggregates()
	if count != 2 {
		t.Fatalf("expected 2 events after evict, got %d", count)
	}
	if sum != 600 {
		t.Fatalf("expected sum 600 after evict, got %f", sum)
	}

	// An event exactly window-duration old is still inside the window.
	w.evict(testBase.Add(5 * time.Second))
	count, _ = w.aggregates()
	if count != 1 {
		t.Fatalf("expected the boundary event to survive, got %d", count)
	}
}

func TestWindowOverflowDropsOldest(t *testing.T) {
	w := newTimeframeWindow(Timeframe{Name: "fast", Duration: time.Minute, Capacity: 3})

	for i := 0; i < 3; i++ {
		if overflowed := w.insert(liqEvent(testBase.Add(time.Duration(i)*time.Second), float64(i+1))); overflowed {
			t.Fatalf("insert %d should not overflow", i)
		}
	}
	if overflowed := w.insert(liqEvent(testBase.Add(3*time.Second), 4)); !overflowed {
		t.Fatal("expected overflow on fourth insert")
	}

	count, sum := w.aggregates()
	if count != 3 {
		t.Fatalf("expected capacity-bounded count 3, got %d", count)
	}
	// Oldest (size 1) dropped: 2+3+4.
	if sum != 9 {
		t.Fatalf("expected sum 9 after overflow, got %f", sum)
	}
	if got := w.at(0).SizeUSD; got != 2 {
		t.Fatalf("expected oldest survivor size 2, got %f", got)
	}
}

func TestWindowInsertKeepsTimestampOrder(t *testing.T) {
	w := newTimeframeWindow(Timeframe{Name: "burst", Duration: time.Minute, Capacity: 10})

	w.insert(liqEvent(testBase, 1))
	w.insert(liqEvent(testBase.Add(2*time.Second), 3))
	// Late arrival lands between the two existing events.
	w.insert(liqEvent(testBase.Add(1*time.Second), 2))

	for i := 0; i < 3; i++ {
		if got := w.at(i).SizeUSD; got != float64(i+1) {
			t.Fatalf("position %d: expected size %d, got %f", i, i+1, got)
		}
	}
}

func TestVelocityNormalizesByWindow(t *testing.T) {
	v := velocityOver(50, 10_000_000, 10*time.Second)
	if v.EventsPerSecond != 5 {
		t.Fatalf("expected 5 events/s, got %f", v.EventsPerSecond)
	}
	if v.VolumePerSecond != 1_000_000 {
		t.Fatalf("expected 1M USD/s, got %f", v.VolumePerSecond)
	}

	empty := velocityOver(0, 0, 10*time.Second)
	if empty.EventsPerSecond != 0 || empty.VolumePerSecond != 0 {
		t.Fatalf("empty window must yield zero velocity, got %+v", empty)
	}
}

func TestSnapshotRingDerivesAcceleration(t *testing.T) {
	r := newSnapshotRing(10)

	first := r.observe(testBase, Velocity{EventsPerSecond: 10, VolumePerSecond: 1000})
	if first.AccelOK {
		t.Fatal("first snapshot must report acceleration unavailable")
	}

	second := r.observe(testBase.Add(2*time.Second), Velocity{EventsPerSecond: 30, VolumePerSecond: 5000})
	if !second.AccelOK {
		t.Fatal("second snapshot must report acceleration")
	}
	if second.EventsAccel != 10 {
		t.Fatalf("expected events accel (30-10)/2 = 10, got %f", second.EventsAccel)
	}
	if second.VolumeAccel != 2000 {
		t.Fatalf("expected volume accel (5000-1000)/2 = 2000, got %f", second.VolumeAccel)
	}

	// A duplicate timestamp cannot produce a derivative.
	dup := r.observe(testBase.Add(2*time.Second), Velocity{EventsPerSecond: 50})
	if dup.AccelOK {
		t.Fatal("duplicate timestamp must report acceleration unavailable")
	}
}

func TestSnapshotRingIsBounded(t *testing.T) {
	r := newSnapshotRing(100)
	for i := 0; i < 150; i++ {
		r.observe(testBase.Add(time.Duration(i)*time.Second), Velocity{EventsPerSecond: float64(i)})
	}
	if r.size != 100 {
		t.Fatalf("expected ring capped at 100, got %d", r.size)
	}
	last, ok := r.last()
	if !ok || last.EventsPerSecond != 149 {
		t.Fatalf("expected newest snapshot preserved, got %+v ok=%v", last, ok)
	}
}

func TestVenueActivityScoresActiveShare(t *testing.T) {
	a := newVenueActivity(2*time.Second, 4)

	a.observe("binance", testBase)
	a.observe("bybit", testBase.Add(time.Second))

	score, active := a.score(testBase.Add(time.Second))
	if active != 2 {
		t.Fatalf("expected 2 active venues, got %d", active)
	}
	if score != 0.5 {
		t.Fatalf("expected score 0.5, got %f", score)
	}

	// The binance observation ages out of the correlation window.
	score, active = a.score(testBase.Add(3 * time.Second))
	if active != 1 || score != 0.25 {
		t.Fatalf("expected 1 active venue and score 0.25, got %d and %f", active, score)
	}
}

func TestVenueActivitySingleVenueScoresZero(t *testing.T) {
	a := newVenueActivity(2*time.Second, 1)
	a.observe("binance", testBase)
	if score, _ := a.score(testBase); score != 0 {
		t.Fatalf("one configured venue can never correlate, got %f", score)
	}
}
