package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Failure ingestion metrics
	FailuresRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_failures_recorded_total",
			Help: "Total number of payment failures ingested",
		},
		[]string{"failure_code", "classification"},
	)

	// Retry metrics
	RetriesAttempted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_retries_attempted_total",
			Help: "Total number of payment retry attempts",
		},
		[]string{"outcome"},
	)

	RetryAmountRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_amount_recovered_cents_total",
			Help: "Total amount in cents recovered by successful retries",
		},
		[]string{"currency"},
	)

	// Dunning metrics
	CampaignsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunning_campaigns_created_total",
			Help: "Total number of dunning campaigns created",
		},
		[]string{"campaign_type"},
	)

	CommunicationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dunning_communications_sent_total",
			Help: "Total number of dunning communications dispatched",
		},
		[]string{"channel", "status"},
	)

	// Account state metrics
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_state_transitions_total",
			Help: "Total number of account state transitions",
		},
		[]string{"from", "to"},
	)

	FeatureAccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_access_checks_total",
			Help: "Total number of feature access checks",
		},
		[]string{"allowed"},
	)

	// Job orchestrator metrics
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Total number of job invocations",
		},
		[]string{"job_type", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_active",
			Help: "Number of job types currently running",
		},
	)

	// Daily recovery funnel gauges, refreshed by the analytics job
	FunnelOpenFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recovery_open_failures",
			Help: "Failures currently pending or retrying",
		},
	)

	FunnelResolvedToday = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recovery_resolved_today",
			Help: "Failures resolved in the last 24 hours",
		},
	)

	FunnelAbandonedToday = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recovery_abandoned_today",
			Help: "Failures abandoned in the last 24 hours",
		},
	)

	// Cache metrics
	StateCacheHit = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "account_state_cache_hit_total",
			Help: "Total number of account state cache hits",
		},
	)

	StateCacheMiss = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "account_state_cache_miss_total",
			Help: "Total number of account state cache misses",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// RecordRetryAttempt records a payment retry attempt outcome
func RecordRetryAttempt(outcome string) {
	RetriesAttempted.WithLabelValues(outcome).Inc()
}

// RecordCommunication records a dunning communication dispatch
func RecordCommunication(channel, status string) {
	CommunicationsSent.WithLabelValues(channel, status).Inc()
}

// RecordStateTransition records an account state transition
func RecordStateTransition(from, to string) {
	StateTransitions.WithLabelValues(from, to).Inc()
}

// RecordFeatureAccess records a feature access check
func RecordFeatureAccess(allowed bool) {
	allowedStr := "false"
	if allowed {
		allowedStr = "true"
	}
	FeatureAccessChecks.WithLabelValues(allowedStr).Inc()
}

// RecordJobRun records a job invocation with its duration
func RecordJobRun(jobType, status string, duration time.Duration) {
	JobRunsTotal.WithLabelValues(jobType, status).Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	ErrorsTotal.WithLabelValues(errorType, component).Inc()
}
