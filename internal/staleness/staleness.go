// Package staleness classifies snapshot age. Pure, no I/O.
package staleness

import "time"

// DefaultThreshold is how long a snapshot is served without a refetch.
// It is not related to the edge Cache-Control max-age the HTTP layer
// emits; the two durations move independently.
const DefaultThreshold = 25 * 24 * time.Hour

type Verdict int

const (
	Fresh Verdict = iota
	Stale
)

func (v Verdict) String() string {
	if v == Stale {
		return "stale"
	}
	return "fresh"
}

type Policy struct {
	threshold time.Duration
}

func New(threshold time.Duration) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Policy{threshold: threshold}
}

// Classify returns Stale iff now - lastFetchedAt strictly exceeds the
// threshold. Exactly at the threshold is Fresh.
func (p Policy) Classify(lastFetchedAt, now time.Time) Verdict {
	if now.Sub(lastFetchedAt) > p.threshold {
		return Stale
	}
	return Fresh
}

func (p Policy) Threshold() time.Duration { return p.threshold }
