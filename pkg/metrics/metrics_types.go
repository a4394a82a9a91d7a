package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Pipeline Metrics
	PipelineRunsTotal     *prometheus.CounterVec
	PipelineRunDuration   prometheus.Histogram
	PipelineStageDuration *prometheus.HistogramVec
	GraphEntities         prometheus.Gauge
	GraphEdges            prometheus.Gauge
	PathsEnumerated       prometheus.Histogram
	PathsTruncatedTotal   *prometheus.CounterVec

	// Storage Metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Queue Metrics
	QueueJobsTotal     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	AuthFailuresTotal  prometheus.Counter

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initHTTPMetrics()
	r.initPipelineMetrics()
	r.initStorageMetrics()
	r.initQueueMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
