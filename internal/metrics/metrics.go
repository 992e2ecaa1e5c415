// Package metrics holds the Prometheus collectors of the engine and the
// HTTP server. Collectors are registered on the default registry in init
// and served by promhttp at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Events counts handled webhook events by action and outcome
	// (ok|error|duplicate|noop).
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcabot_events_total",
			Help: "Webhook events handled",
		},
		[]string{"action", "outcome"},
	)

	// EntryOrders counts entry market orders by kind (base|safety) and result.
	EntryOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcabot_entry_orders_total",
			Help: "Entry market orders submitted",
		},
		[]string{"kind", "result"},
	)

	// ExitOutcomes counts exit pair refreshes by final exit state.
	ExitOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcabot_exit_outcomes_total",
			Help: "Exit pair refreshes by resulting state",
		},
		[]string{"state"},
	)

	DegradedAverages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dcabot_degraded_averages_total",
			Help: "Averages computed from the exchange because the ledger was unusable",
		},
	)

	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcabot_alerts_total",
			Help: "Operator alerts by reason",
		},
		[]string{"reason"},
	)

	EventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dcabot_event_duration_seconds",
			Help:    "Time spent handling one webhook event",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"action"},
	)

	// HTTPRequests counts API requests by route pattern and status code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcabot_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		Events,
		EntryOrders,
		ExitOutcomes,
		DegradedAverages,
		Alerts,
		EventDuration,
		HTTPRequests,
	)
}
