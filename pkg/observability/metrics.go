package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chargeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charge_attempts_total",
			Help: "Total number of gateway charge attempts",
		},
		[]string{"gateway", "outcome"},
	)

	billingBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_batch_duration_seconds",
			Help:    "Duration of recurring billing batches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	billingInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_subscriptions_in_flight",
			Help: "Number of subscription charges currently being processed",
		},
	)

	schedulerTaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_task_runs_total",
			Help: "Total number of scheduled task executions",
		},
		[]string{"status"},
	)
)

// RecordChargeAttempt records the outcome of a single gateway charge.
// Outcome is one of: approved, declined, gateway_error.
func RecordChargeAttempt(gateway, outcome string) {
	chargeAttemptsTotal.WithLabelValues(gateway, outcome).Inc()
}

// ObserveBillingBatch records the duration of a recurring billing batch
func ObserveBillingBatch(d time.Duration) {
	billingBatchDuration.Observe(d.Seconds())
}

// BillingInFlightInc marks a subscription charge as started
func BillingInFlightInc() { billingInFlight.Inc() }

// BillingInFlightDec marks a subscription charge as finished
func BillingInFlightDec() { billingInFlight.Dec() }

// RecordTaskRun records a scheduler task execution.
// Status is one of: success, failure, timeout, overlap_dropped.
func RecordTaskRun(status string) {
	schedulerTaskRunsTotal.WithLabelValues(status).Inc()
}
