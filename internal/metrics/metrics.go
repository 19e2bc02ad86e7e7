package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entitlements_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	EntitlementDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_gate_decisions_total",
			Help: "Gate decisions by feature and terminal state.",
		},
		[]string{"feature", "state"},
	)

	UsageIncrementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_usage_increments_total",
			Help: "Usage increment attempts by feature and result.",
		},
		[]string{"feature", "result"},
	)

	LedgerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_ledger_errors_total",
			Help: "Usage ledger persistence failures by operation.",
		},
		[]string{"op"},
	)

	LedgerWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_ledger_write_failures_total",
			Help: "Generations delivered whose usage could not be recorded.",
		},
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_generation_requests_total",
			Help: "Calls to the generation provider by feature and status.",
		},
		[]string{"feature", "status"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entitlements_generation_duration_seconds",
			Help:    "Generation provider latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"feature"},
	)

	BillingWebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_billing_webhook_events_total",
			Help: "Stripe webhook events by type and handling result.",
		},
		[]string{"type", "result"},
	)

	TierCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_tier_cache_lookups_total",
			Help: "Subscription tier cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EntitlementDecisionsTotal,
		UsageIncrementsTotal,
		LedgerErrorsTotal,
		LedgerWriteFailuresTotal,
		GenerationRequestsTotal,
		GenerationDuration,
		BillingWebhookEventsTotal,
		TierCacheLookupsTotal,
	)
}
