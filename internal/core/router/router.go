// Package router validates statistics query parameters and adapts the
// coordinator to HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/casafind/market-stats-cache/internal/coordinator"
	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/core/observability"
)

// StatsServer resolves a validated request into a payload.
type StatsServer interface {
	Serve(ctx context.Context, req model.StatsRequest) (coordinator.Result, error)
}

// ErrInvalidScope marks a request rejected during parameter validation,
// before any store or upstream I/O.
var ErrInvalidScope = errors.New("invalid scope")

func invalidScope(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidScope, fmt.Sprintf(format, args...))
}

type statsResponse struct {
	Data          json.RawMessage `json:"data"`
	Cached        bool            `json:"cached"`
	Stale         bool            `json:"stale"`
	LastFetchedAt *time.Time      `json:"lastFetchedAt,omitempty"`
}

// HandleMarketStats serves GET /stats/market.
func HandleMarketStats(logger *slog.Logger, yearsDefault, yearsMax int, edgeMaxAge time.Duration, s StatsServer) http.HandlerFunc {
	return handleStats(logger, "/stats/market", edgeMaxAge, s, func(r *http.Request) (model.StatsRequest, error) {
		return ParseMarketRequest(r, yearsDefault, yearsMax)
	})
}

// HandlePropertyTypes serves GET /stats/property-types.
func HandlePropertyTypes(logger *slog.Logger, edgeMaxAge time.Duration, s StatsServer) http.HandlerFunc {
	return handleStats(logger, "/stats/property-types", edgeMaxAge, s, ParsePropTypesRequest)
}

func handleStats(logger *slog.Logger, route string, edgeMaxAge time.Duration, s StatsServer,
	parse func(*http.Request) (model.StatsRequest, error),
) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		req, err := parse(r)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
			return
		}

		res, err := s.Serve(r.Context(), req)
		if err != nil {
			logger.Error("stats request failed", "route", route, "err", err)
			if errors.Is(err, coordinator.ErrNoSnapshot) {
				http.Error(sw, "statistics temporarily unavailable", http.StatusBadGateway)
			} else {
				http.Error(sw, "internal server error", http.StatusInternalServerError)
			}
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
			return
		}

		writeStats(sw, res, edgeMaxAge)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
		logger.Debug("stats served",
			"route", route,
			"cached", res.Cached, "stale", res.Stale,
			"dur", time.Since(start).String())
	}
}

func writeStats(w http.ResponseWriter, res coordinator.Result, edgeMaxAge time.Duration) {
	out := statsResponse{
		Data:   res.Payload,
		Cached: res.Cached,
		Stale:  res.Stale,
	}
	if !res.LastFetchedAt.IsZero() {
		t := res.LastFetchedAt
		out.LastFetchedAt = &t
	}
	w.Header().Set("Content-Type", "application/json")
	if edgeMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(edgeMaxAge.Seconds())))
	}
	_ = json.NewEncoder(w).Encode(out)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

var safeNamePattern = regexp.MustCompile(`^[\w\s\-'\.]+$`)

func safeName(s string) bool {
	if len(s) > 120 {
		return false
	}
	return safeNamePattern.MatchString(s)
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ParseMarketRequest validates /stats/market query parameters.
func ParseMarketRequest(r *http.Request, yearsDefault, yearsMax int) (model.StatsRequest, error) {
	q := r.URL.Query()

	area := strings.TrimSpace(q.Get("area"))
	if area == "" {
		return model.StatsRequest{}, invalidScope("missing required parameter: area")
	}
	if !safeName(area) {
		return model.StatsRequest{}, invalidScope("invalid area")
	}

	kind := model.AreaCity
	if raw := q.Get("area_kind"); raw != "" {
		k, ok := model.ParseAreaKind(raw)
		if !ok {
			return model.StatsRequest{}, invalidScope("invalid area_kind %q", raw)
		}
		kind = k
	}

	years := yearsDefault
	if raw := strings.TrimSpace(q.Get("years")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > yearsMax {
			return model.StatsRequest{}, invalidScope("years must be an integer in [1,%d]", yearsMax)
		}
		years = n
	}

	subArea := strings.TrimSpace(q.Get("sub_area"))
	if subArea != "" && !safeName(subArea) {
		return model.StatsRequest{}, invalidScope("invalid sub_area")
	}

	return model.StatsRequest{
		Resource: model.ResourceMarket,
		Area:     area,
		AreaKind: kind,
		Years:    years,
		Refresh:  parseBool(q.Get("refresh")),
		SubArea:  subArea,
	}, nil
}

// ParsePropTypesRequest validates /stats/property-types query parameters.
func ParsePropTypesRequest(r *http.Request) (model.StatsRequest, error) {
	q := r.URL.Query()

	month := strings.TrimSpace(q.Get("month"))
	if month != "" && !monthPattern.MatchString(month) {
		return model.StatsRequest{}, invalidScope("invalid month %q (want YYYY-MM)", month)
	}

	category := strings.TrimSpace(q.Get("category"))
	if category != "" && !safeName(category) {
		return model.StatsRequest{}, invalidScope("invalid category")
	}

	return model.StatsRequest{
		Resource: model.ResourcePropTypes,
		Month:    month,
		Refresh:  parseBool(q.Get("refresh")),
		Category: category,
	}, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes":
		return true
	default:
		return false
	}
}
