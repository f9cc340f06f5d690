// Package model defines core domain types shared across the service.
package model

import "strings"

type Resource string

const (
	ResourceMarket    Resource = "market"
	ResourcePropTypes Resource = "proptypes"
)

type AreaKind string

const (
	AreaCity         AreaKind = "city"
	AreaNeighborhood AreaKind = "neighborhood"
	AreaRegion       AreaKind = "region"
)

func ParseAreaKind(s string) (AreaKind, bool) {
	switch AreaKind(strings.ToLower(strings.TrimSpace(s))) {
	case AreaCity:
		return AreaCity, true
	case AreaNeighborhood:
		return AreaNeighborhood, true
	case AreaRegion:
		return AreaRegion, true
	default:
		return "", false
	}
}

// StatsRequest is a validated inbound request for one statistics resource.
type StatsRequest struct {
	Resource Resource
	Area     string
	AreaKind AreaKind
	Month    string // YYYY-MM scope token (property-type breakdown)
	Years    int    // trailing history depth in years (market trend)
	Refresh  bool

	// ad-hoc filters that are not part of the persisted snapshot dimensions
	SubArea  string
	Category string
}

// Filtered reports whether the request carries parameters outside the
// persisted dimension set.
func (r StatsRequest) Filtered() bool {
	return r.SubArea != "" || r.Category != ""
}
