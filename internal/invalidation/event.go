// Package invalidation defines the ingest events that evict snapshots.
package invalidation

import "fmt"

// Event announces that upstream market data changed for a scope. The
// feed version increases monotonically per dedupe key; stale replays are
// dropped.
type Event struct {
	Op          string `json:"op"` // "ingest" | "correction"
	Resource    string `json:"resource,omitempty"`
	Area        string `json:"area,omitempty"`
	AreaKind    string `json:"area_kind,omitempty"`
	Month       string `json:"month,omitempty"`
	FeedVersion uint64 `json:"feed_version"`
}

func (e Event) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", e.Resource, e.Area, e.AreaKind, e.Month)
}
