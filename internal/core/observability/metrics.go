// Package observability defines the service-level metric instruments.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu sync.Mutex

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamLatencySeconds     *prometheus.HistogramVec
	storeOpTotal               *prometheus.CounterVec
	storeOpDurationSeconds     *prometheus.HistogramVec
	snapshotResultsTotal       *prometheus.CounterVec
	invalidationEventsTotal    *prometheus.CounterVec
	buildInfo                  *prometheus.GaugeVec
)

// Init constructs the instruments against the given registerer. Passing a
// nil registerer leaves the package as a no-op, which tests rely on.
func Init(reg prometheus.Registerer, enabled bool) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled || reg == nil {
		httpRequestsTotal = nil
		httpRequestDurationSeconds = nil
		upstreamLatencySeconds = nil
		storeOpTotal = nil
		storeOpDurationSeconds = nil
		snapshotResultsTotal = nil
		invalidationEventsTotal = nil
		buildInfo = nil
		return
	}

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream analytics calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_store_op_total",
			Help: "Snapshot store operations by outcome.",
		},
		[]string{"op", "status"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapshot_store_op_duration_seconds",
			Help:    "Duration of snapshot store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	snapshotResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_results_total",
			Help: "Snapshot serving results by outcome.",
		},
		[]string{"resource", "outcome"},
	)

	invalidationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events processed, by op and status.",
		},
		[]string{"op", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	reg.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		storeOpTotal,
		storeOpDurationSeconds,
		snapshotResultsTotal,
		invalidationEventsTotal,
		buildInfo,
	)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	mu.Lock()
	defer mu.Unlock()
	if httpRequestsTotal == nil {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	mu.Lock()
	defer mu.Unlock()
	if upstreamLatencySeconds == nil {
		return
	}
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	mu.Lock()
	defer mu.Unlock()
	if storeOpTotal == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeOpTotal.WithLabelValues(op, status).Inc()
	storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncSnapshotResult(resource, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	if snapshotResultsTotal == nil {
		return
	}
	snapshotResultsTotal.WithLabelValues(resource, outcome).Inc()
}

func IncInvalidation(op string, err error) {
	mu.Lock()
	defer mu.Unlock()
	if invalidationEventsTotal == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	invalidationEventsTotal.WithLabelValues(op, status).Inc()
}

func ExposeBuildInfo(version string) {
	mu.Lock()
	defer mu.Unlock()
	if buildInfo == nil {
		return
	}
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
