package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsRecorder receives HTTP measurements. *metrics.Registry implements it.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	RecordHTTPResponseSize(method, path string, size int)
	IncHTTPRequestsInFlight()
	DecHTTPRequestsInFlight()
}

// Metrics records request count, latency, size and in-flight requests.
// Paths are labelled by route pattern when the mux set one, so ids in the
// URL do not explode label cardinality.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder.IncHTTPRequestsInFlight()
			defer recorder.DecHTTPRequestsInFlight()

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			path := r.Pattern
			if path == "" {
				path = "unmatched"
			}
			recorder.RecordHTTPRequest(r.Method, path, strconv.Itoa(sw.status), time.Since(start))
			recorder.RecordHTTPResponseSize(r.Method, path, sw.written)
		})
	}
}
