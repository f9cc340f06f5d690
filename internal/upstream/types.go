package upstream

import (
	"encoding/json"
	"fmt"
)

// FlexCount decodes a count that upstream emits either as a bare number
// or as an object with a nested count field. Missing fields decode to 0.
type FlexCount float64

func (f *FlexCount) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexCount(n)
		return nil
	}
	var obj struct {
		Count float64 `json:"count"`
	}
	if err := json.Unmarshal(b, &obj); err == nil {
		*f = FlexCount(obj.Count)
		return nil
	}
	// null or an unrecognized shape: keep the zero value rather than
	// failing the whole run for one field
	*f = 0
	return nil
}

// Stats is the loosely-structured aggregate document returned for one
// date range and scope.
type Stats struct {
	Sales        FlexCount `json:"sales"`
	NewListings  FlexCount `json:"new_listings"`
	ActiveCount  FlexCount `json:"active_listings"`
	MedianPrice  float64   `json:"median_price"`
	AveragePrice float64   `json:"average_price"`
	AverageDOM   float64   `json:"average_dom"`
	Buckets      []Bucket  `json:"buckets,omitempty"`
}

// Bucket is one per-category row when the query groups by property type.
// A category with no matching data may be omitted entirely.
type Bucket struct {
	Label        string    `json:"label"`
	Sales        FlexCount `json:"sales"`
	MedianPrice  float64   `json:"median_price"`
	AveragePrice float64   `json:"average_price"`
}

// QueryError is any transport, timeout or non-success failure talking to
// the analytics service.
type QueryError struct {
	Status int
	Err    error
}

func (e *QueryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream status=%d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
