// Package metrics holds the process-wide prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Name:      "verifications_total",
			Help:      "Completed and failed verification calls by result.",
		},
		[]string{"result"},
	)

	DiscrepanciesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Name:      "discrepancies_total",
			Help:      "Discrepancies reported in verdicts by reason code.",
		},
		[]string{"reason"},
	)

	RateLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paywall",
			Name:      "rate_lookups_total",
			Help:      "Conversion rate lookups by status.",
		},
		[]string{"status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paywall",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status class.",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
			},
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		VerificationsTotal,
		DiscrepanciesTotal,
		RateLookupsTotal,
		HTTPRequestDuration,
	)
}

// Result labels.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

func IncVerification(result string) {
	VerificationsTotal.WithLabelValues(result).Inc()
}

func IncDiscrepancy(reason string) {
	DiscrepanciesTotal.WithLabelValues(reason).Inc()
}

func IncRateLookup(status string) {
	RateLookupsTotal.WithLabelValues(status).Inc()
}

func ObserveHTTP(route, status string, seconds float64) {
	HTTPRequestDuration.WithLabelValues(route, status).Observe(seconds)
}
