// Package metrics exposes Prometheus counters and histograms for the
// webmirror daemon. Metric shapes (counter-by-outcome, a duration
// histogram, an in-flight gauge) are grounded on the pack's own
// downloader instrumentation idiom (a crates-mirror downloader registers
// the same counter/histogram/gauge trio for its fetch loop).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchesTotal counts asset fetch attempts by outcome ("ok", "error",
	// "cached").
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webmirror_fetches_total",
			Help: "Asset fetch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// BytesDownloadedTotal counts bytes written to disk across all sessions.
	BytesDownloadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webmirror_bytes_downloaded_total",
		Help: "Total bytes downloaded across all sessions.",
	})

	// FetchDuration measures wall-clock time per asset fetch.
	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webmirror_fetch_duration_seconds",
		Help:    "Time spent fetching a single asset.",
		Buckets: prometheus.DefBuckets,
	})

	// SessionsActive is a gauge of sessions currently in a non-terminal
	// status.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webmirror_sessions_active",
		Help: "Sessions currently in a non-terminal status.",
	})

	// SessionsTotal counts sessions by their terminal status.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webmirror_sessions_total",
			Help: "Completed sessions by terminal status.",
		},
		[]string{"status"},
	)

	// CircuitBreakerTrips counts retry-manager circuit-breaker trips by
	// domain.
	CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webmirror_circuit_breaker_trips_total",
			Help: "Retry manager circuit breaker trips by domain.",
		},
		[]string{"domain"},
	)
)

func init() {
	prometheus.MustRegister(
		FetchesTotal,
		BytesDownloadedTotal,
		FetchDuration,
		SessionsActive,
		SessionsTotal,
		CircuitBreakerTrips,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
