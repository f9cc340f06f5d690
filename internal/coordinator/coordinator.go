// Package coordinator drives a statistics request through the snapshot
// cache: key derivation, staleness classification, refresh, and the
// stale-fallback chain.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/core/observability"
	"github.com/casafind/market-stats-cache/internal/dedupe"
	"github.com/casafind/market-stats-cache/internal/scopekey"
	"github.com/casafind/market-stats-cache/internal/snapstore"
	"github.com/casafind/market-stats-cache/internal/staleness"
)

// ErrNoSnapshot means a refresh failed and no snapshot exists to fall
// back on. This is the only hard error the coordinator surfaces.
var ErrNoSnapshot = errors.New("no snapshot available")

// Store is the snapshot persistence seam.
type Store interface {
	Get(ctx context.Context, key string) (snapstore.Snapshot, error)
	Upsert(ctx context.Context, key string, snap snapstore.Snapshot) error
}

// Runner computes a fresh payload for a request.
type Runner interface {
	Run(ctx context.Context, req model.StatsRequest, now time.Time) (json.RawMessage, error)
}

// Result is what a handler returns to the client alongside the payload.
type Result struct {
	Payload       json.RawMessage
	Cached        bool
	Stale         bool
	LastFetchedAt time.Time // zero only for bypass runs, which persist nothing
}

type Config struct {
	Policy       staleness.Policy
	StoreTimeout time.Duration

	// RefreshOnStale selects the per-resource staleness policy: true
	// treats a stale snapshot as a miss and refreshes synchronously,
	// false serves it as-is marked stale.
	RefreshOnStale map[model.Resource]bool
}

type Coordinator struct {
	store          Store
	agg            Runner
	memo           *dedupe.Cache // optional, bypass responses only
	policy         staleness.Policy
	refreshOnStale map[model.Resource]bool
	storeTimeout   time.Duration
	logger         *slog.Logger

	// collapses concurrent refreshes of the same key into one run
	sf singleflight.Group

	nowFn func() time.Time
}

func New(store Store, agg Runner, memo *dedupe.Cache, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 250 * time.Millisecond
	}
	return &Coordinator{
		store:          store,
		agg:            agg,
		memo:           memo,
		policy:         cfg.Policy,
		refreshOnStale: cfg.RefreshOnStale,
		storeTimeout:   cfg.StoreTimeout,
		logger:         logger,
		nowFn:          time.Now,
	}
}

// Serve resolves one request. It returns an error only when the payload
// could not be computed and no snapshot exists for the key.
func (c *Coordinator) Serve(ctx context.Context, req model.StatsRequest) (Result, error) {
	now := c.nowFn()
	key, mode := scopekey.Build(req, now)

	if mode == scopekey.ModeBypassFilter {
		return c.serveBypass(ctx, req, key, now)
	}
	if req.Refresh {
		observability.IncSnapshotResult(string(req.Resource), "refresh")
		return c.refresh(ctx, req, key, now, nil)
	}

	ks := key.String()
	snap, err := c.lookup(ctx, ks)
	switch {
	case errors.Is(err, snapstore.ErrNotFound):
		observability.IncSnapshotResult(string(req.Resource), "miss")
		return c.refresh(ctx, req, key, now, nil)
	case err != nil:
		// a broken read is served like a miss; the refresh path still
		// has the fallback lookup if upstream is down too
		c.logger.Warn("snapshot read failed, treating as miss", "key", ks, "err", err)
		observability.IncSnapshotResult(string(req.Resource), "miss")
		return c.refresh(ctx, req, key, now, nil)
	}

	if c.policy.Classify(snap.FetchedAt, now) == staleness.Fresh {
		observability.IncSnapshotResult(string(req.Resource), "hit")
		return Result{Payload: snap.Payload, Cached: true, LastFetchedAt: snap.FetchedAt}, nil
	}

	if !c.refreshOnStale[req.Resource] {
		// lazy policy: stale data is served indefinitely, marked stale
		observability.IncSnapshotResult(string(req.Resource), "stale_hit")
		return Result{Payload: snap.Payload, Cached: true, Stale: true, LastFetchedAt: snap.FetchedAt}, nil
	}

	observability.IncSnapshotResult(string(req.Resource), "stale_refresh")
	return c.refresh(ctx, req, key, now, &snap)
}

// refresh runs the aggregator (deduplicated per key), persists on
// success, and falls back to prev or a stored snapshot on failure.
func (c *Coordinator) refresh(ctx context.Context, req model.StatsRequest, key scopekey.Key, now time.Time, prev *snapstore.Snapshot) (Result, error) {
	ks := key.String()

	// a client disconnect must not abort a run other requests may be
	// waiting on; the upstream client bounds each call with its own timeout
	runCtx := context.WithoutCancel(ctx)

	v, err, shared := c.sf.Do(ks, func() (any, error) {
		payload, err := c.agg.Run(runCtx, req, now)
		if err != nil {
			return nil, err
		}
		snap := snapstore.Snapshot{
			Payload:   payload,
			FetchedAt: c.nowFn().UTC(),
			Dims:      key.Dims(),
		}
		// best-effort write, detached from the request context: a
		// persistence failure never fails the response
		sctx, cancel := context.WithTimeout(context.Background(), c.storeTimeout)
		defer cancel()
		if perr := c.store.Upsert(sctx, ks, snap); perr != nil {
			c.logger.Warn("snapshot upsert failed", "key", ks, "err", perr)
		}
		return snap, nil
	})
	if err == nil {
		snap := v.(snapstore.Snapshot)
		if shared {
			c.logger.Debug("refresh shared with concurrent request", "key", ks)
		}
		return Result{Payload: snap.Payload, LastFetchedAt: snap.FetchedAt}, nil
	}

	if prev == nil {
		if s, gerr := c.lookup(ctx, ks); gerr == nil {
			prev = &s
		}
	}
	if prev != nil {
		c.logger.Warn("refresh failed, serving stale snapshot",
			"key", ks, "fetched_at", prev.FetchedAt, "err", err)
		observability.IncSnapshotResult(string(req.Resource), "stale_fallback")
		return Result{Payload: prev.Payload, Cached: true, Stale: true, LastFetchedAt: prev.FetchedAt}, nil
	}

	observability.IncSnapshotResult(string(req.Resource), "error")
	return Result{}, errors.Join(ErrNoSnapshot, err)
}

// serveBypass handles requests whose filters are outside the persisted
// dimensions: always a fresh run, never a snapshot write. A short-lived
// memo absorbs repeats of the same filtered query.
func (c *Coordinator) serveBypass(ctx context.Context, req model.StatsRequest, key scopekey.Key, now time.Time) (Result, error) {
	fp := fmt.Sprintf("%s:sub=%s:cat=%s", key.String(), req.SubArea, req.Category)

	if c.memo != nil {
		if b, ok := c.memo.Get(fp); ok {
			observability.IncSnapshotResult(string(req.Resource), "bypass_memo")
			return Result{Payload: b}, nil
		}
	}

	observability.IncSnapshotResult(string(req.Resource), "bypass")
	payload, err := c.agg.Run(ctx, req, now)
	if err != nil {
		// the stored unfiltered snapshot is still better than an error
		if s, gerr := c.lookup(ctx, key.String()); gerr == nil {
			c.logger.Warn("filtered run failed, serving unfiltered stale snapshot",
				"key", key.String(), "err", err)
			observability.IncSnapshotResult(string(req.Resource), "stale_fallback")
			return Result{Payload: s.Payload, Cached: true, Stale: true, LastFetchedAt: s.FetchedAt}, nil
		}
		observability.IncSnapshotResult(string(req.Resource), "error")
		return Result{}, errors.Join(ErrNoSnapshot, err)
	}

	if c.memo != nil {
		c.memo.Set(fp, payload)
	}
	return Result{Payload: payload}, nil
}

func (c *Coordinator) lookup(ctx context.Context, key string) (snapstore.Snapshot, error) {
	sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.store.Get(sctx, key)
}
