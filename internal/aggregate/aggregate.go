// Package aggregate fans out upstream analytics queries per sub-window
// and computes the derived metrics persisted in a snapshot payload.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/upstream"
)

type Aggregator struct {
	up     upstream.Querier
	logger *slog.Logger
}

func New(up upstream.Querier, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{up: up, logger: logger}
}

// Run produces the snapshot payload for one request. Any sub-query
// failure fails the run as a unit; partial results are never emitted.
func (a *Aggregator) Run(ctx context.Context, req model.StatsRequest, now time.Time) (json.RawMessage, error) {
	switch req.Resource {
	case model.ResourceMarket:
		return a.Market(ctx, req, now)
	case model.ResourcePropTypes:
		return a.PropertyTypes(ctx, req, now)
	default:
		return nil, fmt.Errorf("unknown resource %q", req.Resource)
	}
}

type subResult struct {
	name  string
	stats upstream.Stats
	err   error
}

// fanOut issues every query concurrently and blocks until all have
// returned. One failed sub-query fails the whole call.
func (a *Aggregator) fanOut(ctx context.Context, queries map[string]upstream.Query) (map[string]upstream.Stats, error) {
	results := make(chan subResult, len(queries))

	var wg sync.WaitGroup
	for name, q := range queries {
		wg.Add(1)
		go func(name string, q upstream.Query) {
			defer wg.Done()
			s, err := a.up.Query(ctx, q)
			if err != nil {
				err = fmt.Errorf("window %s: %w", name, err)
			}
			results <- subResult{name: name, stats: s, err: err}
		}(name, q)
	}
	wg.Wait()
	close(results)

	out := make(map[string]upstream.Stats, len(queries))
	var errs []error
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		out[r.name] = r.stats
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%d/%d sub-queries failed: %w", len(errs), len(queries), errors.Join(errs...))
	}
	return out, nil
}

// pctChange is (cur-base)/base*100 with a zero result for missing or
// non-positive baselines. Never NaN or Inf.
func pctChange(cur, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return (cur - base) / base * 100
}
