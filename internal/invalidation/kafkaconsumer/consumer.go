// Package kafkaconsumer evicts snapshots when upstream market data is
// re-ingested, so the next request refetches instead of waiting out the
// staleness window.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/casafind/market-stats-cache/internal/core/model"
	obs "github.com/casafind/market-stats-cache/internal/core/observability"
	"github.com/casafind/market-stats-cache/internal/invalidation"
	"github.com/casafind/market-stats-cache/internal/scopekey"
)

// KeyDeleter removes snapshot slots by canonical key.
type KeyDeleter interface {
	Delete(ctx context.Context, keys ...string) error
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	store    KeyDeleter
	yearsMax int
	dedupe   *versionDedupe
	nowFn    func() time.Time
}

func New(cfg Config, logger *slog.Logger, store KeyDeleter, yearsMax int) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if yearsMax < 1 {
		yearsMax = 1
	}
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		yearsMax: yearsMax,
		dedupe:   newVersionDedupe(cfg.DedupeSize),
		nowFn:    time.Now,
	}
}

// Start consumes ingest events until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: missing snapshot store")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("ingest invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("ingest invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single ingest event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidation("decode", err)
		c.logger.Error("ingest event decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("json decode: %w", err)
	}

	if !c.dedupe.shouldApply(ev.DedupeKey(), ev.FeedVersion) {
		c.logger.Debug("stale feed version, skipping",
			"op", ev.Op, "scope", ev.DedupeKey(), "version", ev.FeedVersion)
		return nil
	}

	keys := c.keysForEvent(ev)
	if len(keys) == 0 {
		obs.IncInvalidation(ev.Op, nil)
		c.logger.Debug("no snapshot keys for event (skipping)", "op", ev.Op)
		return nil
	}

	if err := c.store.Delete(ctx, keys...); err != nil {
		obs.IncInvalidation(ev.Op, err)
		return fmt.Errorf("delete snapshots: %w", err)
	}

	obs.IncInvalidation(ev.Op, nil)
	c.logger.Info("snapshots invalidated",
		"op", ev.Op, "scope", ev.DedupeKey(), "keys", len(keys))
	return nil
}

// keysForEvent enumerates the snapshot slots an event can touch. Market
// keys carry a history depth, so every depth up to the configured
// maximum is covered; the time bucket is always the current month.
func (c *Consumer) keysForEvent(ev invalidation.Event) []string {
	now := c.nowFn()
	var keys []string

	if ev.Resource == "" || ev.Resource == string(model.ResourceMarket) {
		if ev.Area != "" {
			kind, ok := model.ParseAreaKind(ev.AreaKind)
			if !ok {
				kind = model.AreaCity
			}
			for y := 1; y <= c.yearsMax; y++ {
				k := scopekey.Key{
					Resource: model.ResourceMarket,
					Area:     ev.Area,
					AreaKind: kind,
					Month:    scopekey.Bucket(now),
					Years:    y,
				}
				keys = append(keys, k.String())
			}
		}
	}

	if ev.Resource == "" || ev.Resource == string(model.ResourcePropTypes) {
		month := ev.Month
		if month == "" {
			month = scopekey.Bucket(now)
		}
		k := scopekey.Key{Resource: model.ResourcePropTypes, Month: month}
		keys = append(keys, k.String())
	}

	return keys
}
