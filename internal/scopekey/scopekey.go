// Package scopekey derives the canonical cache key for one snapshot slot.
package scopekey

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/casafind/market-stats-cache/internal/core/model"
)

// Mode says how the coordinator may use the cache for a request.
type Mode int

const (
	// ModeCacheable allows both reads and writes for the derived key.
	ModeCacheable Mode = iota
	// ModeBypassFilter forbids reads and writes: the request carries a
	// filter that is not part of the persisted dimensions, so its result
	// must not poison the shared slot.
	ModeBypassFilter
)

// Key identifies one snapshot slot. Equality is structural.
type Key struct {
	Resource model.Resource
	Area     string
	AreaKind model.AreaKind
	Month    string // calendar time bucket, YYYY-MM
	Years    int    // history depth; participates in the key when set
}

// Build derives the key and cache mode for a validated request. The time
// bucket is the calendar month of now unless the request names a month.
func Build(req model.StatsRequest, now time.Time) (Key, Mode) {
	k := Key{
		Resource: req.Resource,
		Area:     req.Area,
		AreaKind: req.AreaKind,
		Month:    Bucket(now),
		Years:    req.Years,
	}
	if req.Resource == model.ResourcePropTypes && req.Month != "" {
		k.Month = req.Month
	}
	if req.Filtered() {
		return k, ModeBypassFilter
	}
	return k, ModeCacheable
}

// Bucket formats the month-granularity time bucket for t.
func Bucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// String renders the canonical store key. The hash suffix covers the raw
// dimension text so sanitization cannot collide two distinct scopes.
func (k Key) String() string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d", k.Resource, k.Area, k.AreaKind, k.Month, k.Years)
	sum := xxhash.Sum64String(raw)

	area := sanitizeForKey(strings.TrimSpace(k.Area))
	const maxAreaLen = 120
	if len(area) > maxAreaLen {
		area = area[:maxAreaLen]
	}

	return fmt.Sprintf("stats:%s:%s:%s:%s:y%d:d=%016x",
		k.Resource, k.AreaKind, area, k.Month, k.Years, sum)
}

// Dims returns the dimension metadata persisted alongside the payload.
func (k Key) Dims() map[string]string {
	d := map[string]string{
		"resource": string(k.Resource),
		"month":    k.Month,
	}
	if k.Area != "" {
		d["area"] = k.Area
		d["area_kind"] = string(k.AreaKind)
	}
	if k.Years > 0 {
		d["years"] = fmt.Sprintf("%d", k.Years)
	}
	return d
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
