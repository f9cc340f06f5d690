package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/casafind/market-stats-cache/internal/aggregate"
	"github.com/casafind/market-stats-cache/internal/coordinator"
	"github.com/casafind/market-stats-cache/internal/core/config"
	"github.com/casafind/market-stats-cache/internal/core/model"
	"github.com/casafind/market-stats-cache/internal/core/observability"
	"github.com/casafind/market-stats-cache/internal/core/router"
	"github.com/casafind/market-stats-cache/internal/core/server"
	"github.com/casafind/market-stats-cache/internal/dedupe"
	"github.com/casafind/market-stats-cache/internal/invalidation/kafkaconsumer"
	"github.com/casafind/market-stats-cache/internal/logger"
	"github.com/casafind/market-stats-cache/internal/metrics"
	"github.com/casafind/market-stats-cache/internal/snapstore"
	"github.com/casafind/market-stats-cache/internal/staleness"
	"github.com/casafind/market-stats-cache/internal/upstream"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "statscache",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), true)
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting statscache",
		"addr", cfg.Addr,
		"version", Version,
		"analytics", cfg.AnalyticsURL,
		"stale_after", cfg.StaleAfter.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	store, err := snapstore.New(bootCtx, cfg.RedisAddr)
	cancel()
	if err != nil {
		appLog.Error("snapshot store init failed", "err", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	up, err := upstream.New(cfg.AnalyticsURL, cfg.UpstreamTimeout, appLog)
	if err != nil {
		appLog.Error("upstream client init failed", "err", err)
		return 1
	}

	memo := dedupe.New(cfg.DedupeSize, cfg.DedupeTTL, cfg.DedupeSweep)
	defer memo.Close()

	coord := coordinator.New(
		store,
		aggregate.New(up, appLog),
		memo,
		coordinator.Config{
			Policy:       staleness.New(cfg.StaleAfter),
			StoreTimeout: cfg.StoreOpTimeout,
			// market trends refetch when stale; the property-type
			// breakdown lazily serves whatever is stored
			RefreshOnStale: map[model.Resource]bool{
				model.ResourceMarket:    true,
				model.ResourcePropTypes: false,
			},
		},
		appLog,
	)

	if cfg.Kafka.Enabled {
		consumer := kafkaconsumer.New(
			kafkaconsumer.NewConfig(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
			appLog, store, cfg.HistoryYearsMax,
		)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	h := server.Handlers{
		Market:        router.HandleMarketStats(appLog, cfg.HistoryYears, cfg.HistoryYearsMax, cfg.EdgeMaxAge, coord),
		PropertyTypes: router.HandlePropertyTypes(appLog, cfg.EdgeMaxAge, coord),
		Metrics:       p.Handler(),
		Ready:         store,
	}

	if err := server.Run(ctx, cfg, appLog, h); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
