// Package snapstore persists analytics snapshots in Redis, one value per
// scope key.
package snapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/casafind/market-stats-cache/internal/core/observability"
)

// ErrNotFound is returned by Get when no snapshot exists for the key.
var ErrNotFound = errors.New("snapstore: snapshot not found")

// Snapshot is the persisted envelope for one scope key. Payload is the
// aggregator output, kept opaque here.
type Snapshot struct {
	Payload   json.RawMessage   `json:"payload"`
	FetchedAt time.Time         `json:"fetched_at"`
	Dims      map[string]string `json:"dims,omitempty"`
}

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the snapshot stored under key, or ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (Snapshot, error) {
	start := time.Now()
	raw, err := c.rdb.Get(ctx, key).Bytes()
	observability.ObserveStoreOp("get", err, time.Since(start).Seconds())
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis GET %q: %w", key, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %q: %w", key, err)
	}
	return snap, nil
}

// Upsert replaces the snapshot under key. Writes carry no TTL: staleness
// is a read-time classification, never an eviction policy. The single-key
// SET is the atomic last-write-wins replace concurrent instances rely on.
func (c *Client) Upsert(ctx context.Context, key string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %q: %w", key, err)
	}

	start := time.Now()
	err = c.rdb.Set(ctx, key, raw, 0).Err()
	observability.ObserveStoreOp("upsert", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveStoreOp("delete", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
