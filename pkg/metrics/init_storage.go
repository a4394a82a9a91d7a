package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage covers event sources (s3, postgres, file) and report sinks.
func (r *Registry) initStorageMetrics() {
	r.StorageOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "malaphor_storage_operations_total",
			Help: "Total number of source reads and report writes",
		},
		[]string{"backend", "operation", "status"},
	)

	r.StorageOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "malaphor_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"backend", "operation"},
	)
}
