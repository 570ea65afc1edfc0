// Package metrics exposes the execution engine's Prometheus collectors.
//
//   - lighterexec_directives_total{source}        directives emitted (decision|breaker|retry)
//   - lighterexec_operations_total{action,outcome} per-operation outcomes
//   - lighterexec_retry_exhausted_total{action}    operations abandoned after the last retry
//   - lighterexec_breaker_trips_total              emergency cancel-alls
//   - lighterexec_signing_failures_total           directives dropped while signing
//   - lighterexec_reconnects_total{result}         transport recoveries (in_place|fresh|failed)
//   - lighterexec_live_orders{side}                live orders known to the engine
//   - lighterexec_pending_orders                   unconfirmed operations
//   - lighterexec_breaker_cooldown_seconds         current breaker cooldown
//
// Collectors are registered in init() and served by Handler at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Directives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighterexec_directives_total",
			Help: "Directives emitted by source",
		},
		[]string{"source"},
	)

	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighterexec_operations_total",
			Help: "Operation outcomes by action",
		},
		[]string{"action", "outcome"},
	)

	RetryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighterexec_retry_exhausted_total",
			Help: "Operations abandoned after exhausting retries",
		},
		[]string{"action"},
	)

	BreakerTrips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lighterexec_breaker_trips_total",
			Help: "Emergency cancel-all trips",
		},
	)

	SigningFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lighterexec_signing_failures_total",
			Help: "Directives dropped because signing failed",
		},
	)

	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighterexec_reconnects_total",
			Help: "Transaction transport recoveries by result",
		},
		[]string{"result"},
	)

	LiveOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lighterexec_live_orders",
			Help: "Live orders known to the engine",
		},
		[]string{"side"},
	)

	PendingOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighterexec_pending_orders",
			Help: "Operations not yet confirmed by the exchange",
		},
	)

	BreakerCooldown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighterexec_breaker_cooldown_seconds",
			Help: "Current emergency breaker cooldown",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Directives,
		Operations,
		RetryExhausted,
		BreakerTrips,
		SigningFailures,
		Reconnects,
		LiveOrders,
		PendingOrders,
		BreakerCooldown,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
