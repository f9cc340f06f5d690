// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Readiness(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}
		out := resp{Status: "ready"}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if p != nil {
			if err := p.Ping(ctx); err != nil {
				out = resp{Status: "not_ready", Error: err.Error()}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
