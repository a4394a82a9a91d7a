package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPipelineMetrics() {
	r.PipelineRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "malaphor_pipeline_runs_total",
			Help: "Total number of analysis runs by outcome",
		},
		[]string{"status"},
	)

	r.PipelineRunDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "malaphor_pipeline_run_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	r.PipelineStageDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "malaphor_pipeline_stage_duration_seconds",
			Help:    "Duration of each analysis stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"stage"},
	)

	r.GraphEntities = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "malaphor_graph_entities",
			Help: "Number of entities in the most recently built graph",
		},
	)

	r.GraphEdges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "malaphor_graph_edges",
			Help: "Number of events in the most recently built graph",
		},
	)

	r.PathsEnumerated = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "malaphor_paths_enumerated",
			Help:    "Number of candidate paths enumerated per run",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000, 1000000},
		},
	)

	r.PathsTruncatedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "malaphor_paths_truncated_total",
			Help: "Number of runs whose enumeration stopped early, by reason",
		},
		[]string{"reason"},
	)
}
