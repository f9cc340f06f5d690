package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/casafind/market-stats-cache/internal/core/config"
	"github.com/casafind/market-stats-cache/internal/core/health"
	middleware "github.com/casafind/market-stats-cache/internal/core/middleware"
)

// Handlers bundles the route endpoints the server mounts.
type Handlers struct {
	Market        http.HandlerFunc
	PropertyTypes http.HandlerFunc
	Metrics       http.Handler
	Ready         health.Pinger
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h Handlers) error {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(h.Ready))
	if h.Metrics != nil {
		r.Get("/metrics", h.Metrics.ServeHTTP)
	}
	r.Get("/stats/market", h.Market)
	r.Get("/stats/property-types", h.PropertyTypes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
