// Package metrics provides Prometheus instrumentation for the policy service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern and status bucket.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunrise",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sunrise",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PolicyDecisionsTotal counts allow/deny outcomes per policy check.
	PolicyDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunrise",
			Name:      "policy_decisions_total",
			Help:      "Policy decisions by check and outcome.",
		},
		[]string{"check", "outcome"},
	)

	// TokensSpentTotal counts tokens deducted per delivery channel.
	TokensSpentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunrise",
			Name:      "tokens_spent_total",
			Help:      "Tokens spent by delivery channel.",
		},
		[]string{"channel"},
	)

	// TokensPurchasedTotal counts tokens credited from completed purchases.
	TokensPurchasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sunrise",
		Name:      "tokens_purchased_total",
		Help:      "Tokens credited from completed purchases.",
	})

	// JobsTotal counts background jobs by type and result.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sunrise",
			Name:      "jobs_total",
			Help:      "Background jobs processed by type and result.",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PolicyDecisionsTotal,
		TokensSpentTotal,
		TokensPurchasedTotal,
		JobsTotal,
	)
}

// RecordDecision counts one policy outcome.
func RecordDecision(check string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	PolicyDecisionsTotal.WithLabelValues(check, outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func StatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
