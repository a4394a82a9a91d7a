package metrics

import (
	"runtime"
	"time"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordHTTPResponseSize records the number of bytes written for a response
func (r *Registry) RecordHTTPResponseSize(method, path string, size int) {
	r.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(float64(size))
}

// IncHTTPRequestsInFlight marks a request as started
func (r *Registry) IncHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight marks a request as finished
func (r *Registry) DecHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Dec()
}

// RecordRun records one finished analysis. status is ok, failed or invalid.
func (r *Registry) RecordRun(status string, duration time.Duration) {
	r.PipelineRunsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		r.PipelineRunDuration.Observe(duration.Seconds())
	}
}

// RecordStage records the duration of a completed stage
func (r *Registry) RecordStage(stage string, duration time.Duration) {
	r.PipelineStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordGraph records the size of the graph a run built
func (r *Registry) RecordGraph(entities, edges int) {
	r.GraphEntities.Set(float64(entities))
	r.GraphEdges.Set(float64(edges))
}

// RecordPaths records enumeration output
func (r *Registry) RecordPaths(found int, truncated bool, reason string) {
	r.PathsEnumerated.Observe(float64(found))
	if truncated {
		r.PathsTruncatedTotal.WithLabelValues(reason).Inc()
	}
}

// RecordStorageOperation records a source read or report write
func (r *Registry) RecordStorageOperation(backend, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.StorageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	r.StorageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordJob records the outcome of a queued analysis job
func (r *Registry) RecordJob(status string) {
	r.QueueJobsTotal.WithLabelValues(status).Inc()
}

// RecordNotification records a publish attempt
func (r *Registry) RecordNotification(err error) {
	if err != nil {
		r.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}
	r.NotificationsTotal.WithLabelValues("success").Inc()
}

// RecordAuthFailure counts a rejected credential
func (r *Registry) RecordAuthFailure() {
	r.AuthFailuresTotal.Inc()
}

// UpdateSystemMetrics refreshes uptime, goroutine and memory gauges
func (r *Registry) UpdateSystemMetrics(started time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(time.Since(started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
