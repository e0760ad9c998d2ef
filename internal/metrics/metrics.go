// Package metrics provides Prometheus instrumentation for the overview engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SeriesComputed counts series computations, partitioned by mode
	// ("single" or "aggregate").
	SeriesComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overview_series_computed_total",
		Help: "Total number of equity/win-rate series computations",
	}, []string{"mode"})

	// SeriesPoints tracks the number of points in computed series.
	SeriesPoints = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overview_series_points",
		Help:    "Number of closed positions per computed series",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"mode"})

	// UpstreamRequests counts position fetches by exchange and outcome.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overview_upstream_requests_total",
		Help: "Position fetches against the trading service",
	}, []string{"exchange", "outcome"})

	// UpstreamLatency tracks position fetch latency by exchange.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overview_upstream_latency_seconds",
		Help:    "Position fetch latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"exchange"})

	// ExchangeFailures counts exchanges that contributed nothing to a
	// collection because their fetch failed.
	ExchangeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overview_exchange_failures_total",
		Help: "Exchanges substituted with an empty position list",
	}, []string{"exchange"})

	// BreakerState tracks the circuit breaker state per exchange
	// (0 closed, 1 open, 2 half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overview_upstream_breaker_state",
		Help: "Upstream circuit breaker state per exchange",
	}, []string{"exchange"})

	// CacheRequests counts Redis position-cache lookups by result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overview_cache_requests_total",
		Help: "Position cache lookups",
	}, []string{"result"})

	// PositionsIngested counts records written through the ingest endpoint.
	PositionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overview_positions_ingested_total",
		Help: "Position records written to the store",
	}, []string{"exchange"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overview_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "overview_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
