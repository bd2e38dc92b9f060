package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsScheduled counts enqueue attempts by category and result (ok/error).
	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_jobs_scheduled_total",
			Help: "Notification jobs enqueued by category and result",
		},
		[]string{"category", "result"},
	)

	// JobsSkippedPast counts offsets dropped because they were already due.
	JobsSkippedPast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_jobs_skipped_past_total",
			Help: "Notification offsets not scheduled because their time had passed",
		},
		[]string{"category"},
	)

	// JobsCancelled counts suppression cancels by category and result
	// (cancelled/absent/error).
	JobsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_jobs_cancelled_total",
			Help: "Notification job cancellations by category and result",
		},
		[]string{"category", "result"},
	)

	// JobEvents counts worker lifecycle events.
	JobEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nudge_job_events_total",
			Help: "Worker lifecycle events by category and status",
		},
		[]string{"category", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nudge_job_duration_seconds",
			Help:    "Handler run time by category",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)
)
