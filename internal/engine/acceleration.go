package engine

import "time"

// MetricSnapshot freezes the derivative state of one (symbol, timeframe) at a
// single recomputation. Acceleration is the velocity delta between this
// snapshot and the previous one, divided by the wall clock gap.
type MetricSnapshot struct {
	Timestamp       time.Time
	EventsPerSecond float64
	VolumePerSecond float64

	// EventsAccel and VolumeAccel are only meaningful when AccelOK is true.
	// AccelOK is false for the first snapshot of a symbol and whenever two
	// recomputations share a timestamp (dt <= 0), so a duplicate tick can
	// never divide by zero or fabricate an infinite spike.
	EventsAccel float64
	VolumeAccel float64
	AccelOK     bool
}

// snapshotRing keeps a bounded history of metric snapshots per timeframe.
// Like the event windows it is synchronized by the owning symbol state.
type snapshotRing struct {
	snaps []MetricSnapshot
	head  int
	size  int
}

func newSnapshotRing(capacity int) *snapshotRing {
	if capacity < 2 {
		capacity = 2
	}
	return &snapshotRing{snaps: make([]MetricSnapshot, capacity)}
}

func (r *snapshotRing) push(s MetricSnapshot) {
	if r.size == len(r.snaps) {
		r.head = (r.head + 1) % len(r.snaps)
		r.size--
	}
	r.snaps[(r.head+r.size)%len(r.snaps)] = s
	r.size++
}

func (r *snapshotRing) last() (MetricSnapshot, bool) {
	if r.size == 0 {
		return MetricSnapshot{}, false
	}
	return r.snaps[(r.head+r.size-1)%len(r.snaps)], true
}

// observe appends a snapshot of v taken at now, deriving acceleration against
// the previous snapshot when two distinct points in time exist.
func (r *snapshotRing) observe(now time.Time, v Velocity) MetricSnapshot {
	snap := MetricSnapshot{
		Timestamp:       now,
		EventsPerSecond: v.EventsPerSecond,
		VolumePerSecond: v.VolumePerSecond,
	}
	if prev, ok := r.last(); ok {
		if dt := now.Sub(prev.Timestamp).Seconds(); dt > 0 {
			snap.EventsAccel = (v.EventsPerSecond - prev.EventsPerSecond) / dt
			snap.VolumeAccel = (v.VolumePerSecond - prev.VolumePerSecond) / dt
			snap.AccelOK = true
		}
	}
	r.push(snap)
	return snap
}
