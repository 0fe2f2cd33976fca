package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exchange_ledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts handled HTTP requests.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPDuration observes request latency.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	// AccountsRegistered counts successful registrations.
	AccountsRegistered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "registered_total",
			Help:      "Total number of provisioned accounts.",
		},
	)

	// DepositsCredited counts credited deposits.
	DepositsCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "credited_total",
			Help:      "Total number of deposits credited to funding balances.",
		},
		[]string{"chain", "currency"},
	)

	// Transfers counts internal transfer attempts by outcome.
	Transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfers",
			Name:      "total",
			Help:      "Total number of internal transfers by result.",
		},
		[]string{"result"},
	)

	// IDFallbacks counts identifiers issued from the timestamp fallback.
	IDFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idalloc",
			Name:      "fallbacks_total",
			Help:      "Identifiers issued without the counter store.",
		},
		[]string{"counter"},
	)

	// NotificationFailures counts best-effort side effects that failed.
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failures_total",
			Help:      "Best-effort notifications that could not be delivered.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		HTTPRequests,
		HTTPDuration,
		AccountsRegistered,
		DepositsCredited,
		Transfers,
		IDFallbacks,
		NotificationFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
