package engine

import "time"

// venueActivity tracks, for one symbol, the most recent liquidation per
// exchange. Cross-venue correlation is the share of configured venues that
// produced a liquidation inside the correlation window: simultaneous forced
// selling on several exchanges separates a systemic cascade from a single
// whale getting stopped out on one venue.
type venueActivity struct {
	window   time.Duration
	venues   int
	lastSeen map[string]time.Time
}

func newVenueActivity(window time.Duration, venues int) *venueActivity {
	return &venueActivity{
		window:   window,
		venues:   venues,
		lastSeen: make(map[string]time.Time, venues),
	}
}

func (a *venueActivity) observe(exchange string, ts time.Time) {
	if last, ok := a.lastSeen[exchange]; !ok || ts.After(last) {
		a.lastSeen[exchange] = ts
	}
}

// score returns active/configured venues in [0,1] plus the active count.
// With fewer than two configured venues the factor carries no information
// and always scores zero.
func (a *venueActivity) score(now time.Time) (float64, int) {
	if a.venues < 2 {
		return 0, 0
	}
	cutoff := now.Add(-a.window)
	active := 0
	for _, ts := range a.lastSeen {
		if !ts.Before(cutoff) {
			active++
		}
	}
	if active == 0 {
		return 0, 0
	}
	return float64(active) / float64(a.venues), active
}
