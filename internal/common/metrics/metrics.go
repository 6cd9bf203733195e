// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_attempts_total",
			Help: "Channel send attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	Rounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_rounds_total",
			Help: "Completed dispatch rounds by resulting status",
		},
		[]string{"outcome"},
	)

	RoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_round_duration_seconds",
			Help:    "Wall time of one dispatch round",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sweep_items_total",
			Help: "Notifications handled by the periodic sweep",
		},
		[]string{"result"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_dispatch_queue_depth",
			Help: "Immediate dispatch tasks waiting in the queue",
		},
	)

	Created = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_created_total",
			Help: "Notifications persisted, by metadata source",
		},
		[]string{"source"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)
