package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueueMetrics() {
	r.QueueJobsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "malaphor_queue_jobs_total",
			Help: "Total number of analysis jobs consumed from the queue",
		},
		[]string{"status"},
	)

	r.NotificationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "malaphor_notifications_total",
			Help: "Total number of run summaries published",
		},
		[]string{"status"},
	)

	r.AuthFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "malaphor_auth_failures_total",
			Help: "Total number of rejected API credentials",
		},
	)
}
