// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotaReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_quota_reservations_total",
			Help: "Analysis slot reservations by result",
		},
		[]string{"tier", "result"},
	)

	QuotaReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_quota_releases_total",
			Help: "Analysis slots handed back after a failed analysis",
		},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Stripe webhook deliveries by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_webhook_duration_seconds",
			Help:    "Time spent processing a webhook delivery",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconciliations_total",
			Help: "Subscription reconciliations by source and result",
		},
		[]string{"source", "result"},
	)

	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_access_checks_total",
			Help: "hasActiveAccess decisions by reason",
		},
		[]string{"reason"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_analysis_duration_seconds",
			Help:    "AI analysis call latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"result"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
