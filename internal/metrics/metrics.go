// Package metrics exposes Prometheus collectors for the extraction pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	discoveryURLsTotal          *prometheus.CounterVec
	discoveryChildFailuresTotal *prometheus.CounterVec
	discoveryRunsTotal          *prometheus.CounterVec
	rateLimitDelaySeconds       *prometheus.HistogramVec
	circuitState                *prometheus.GaugeVec
	parseResultsTotal           *prometheus.CounterVec
	invariantViolationsTotal    *prometheus.CounterVec
	searchDurationSeconds       prometheus.Histogram
	alertsSentTotal             *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		discoveryURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regtruth_discovery_urls_total",
				Help: "Total content URLs yielded by sitemap discovery, labeled by source.",
			},
			[]string{"source"},
		)

		discoveryChildFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regtruth_discovery_child_failures_total",
				Help: "Total child sitemap fetch/parse failures tolerated during discovery.",
			},
			[]string{"source"},
		)

		discoveryRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regtruth_discovery_runs_total",
				Help: "Total discovery runs, labeled by terminal outcome.",
			},
			[]string{"source", "outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regtruth_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain politeness delays.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		circuitState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regtruth_circuit_open",
				Help: "1 when a domain's circuit breaker is open, 0 otherwise.",
			},
			[]string{"domain"},
		)

		parseResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regtruth_parse_results_total",
				Help: "Total parse attempts, labeled by content class and status.",
			},
			[]string{"content_class", "status"},
		)

		invariantViolationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regtruth_invariant_violations_total",
				Help: "Total structural invariant violations detected before persistence.",
			},
			[]string{"invariant"},
		)

		searchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "regtruth_search_duration_seconds",
				Help:    "Histogram of semantic search latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		alertsSentTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regtruth_alerts_sent_total",
				Help: "Total operational alerts pushed, labeled by kind.",
			},
			[]string{"kind"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDiscoveryURL counts one yielded content URL.
func ObserveDiscoveryURL(source string) {
	if discoveryURLsTotal != nil {
		discoveryURLsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveDiscoveryChildFailure counts one tolerated child failure.
func ObserveDiscoveryChildFailure(source string) {
	if discoveryChildFailuresTotal != nil {
		discoveryChildFailuresTotal.WithLabelValues(source).Inc()
	}
}

// ObserveDiscoveryRun records a run's terminal outcome.
func ObserveDiscoveryRun(source, outcome string) {
	if discoveryRunsTotal != nil {
		discoveryRunsTotal.WithLabelValues(source, outcome).Inc()
	}
}

// ObserveRateLimitDelay records a politeness delay for a domain.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.WithLabelValues(domain).Observe(d.Seconds())
	}
}

// SetCircuitOpen records a domain's circuit state.
func SetCircuitOpen(domain string, open bool) {
	if circuitState == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	circuitState.WithLabelValues(domain).Set(v)
}

// ObserveParseResult counts one parse attempt.
func ObserveParseResult(contentClass, status string) {
	if parseResultsTotal != nil {
		parseResultsTotal.WithLabelValues(contentClass, status).Inc()
	}
}

// ObserveInvariantViolation counts one detected invariant violation.
func ObserveInvariantViolation(invariantID string) {
	if invariantViolationsTotal != nil {
		invariantViolationsTotal.WithLabelValues(invariantID).Inc()
	}
}

// ObserveSearchDuration records one semantic search latency.
func ObserveSearchDuration(d time.Duration) {
	if searchDurationSeconds != nil {
		searchDurationSeconds.Observe(d.Seconds())
	}
}

// ObserveAlertSent counts one pushed alert.
func ObserveAlertSent(kind string) {
	if alertsSentTotal != nil {
		alertsSentTotal.WithLabelValues(kind).Inc()
	}
}
