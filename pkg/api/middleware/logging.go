package middleware

import (
	"net/http"
	"time"

	"github.com/dd0wney/malaphor/pkg/logging"
)

// Logging writes one line per request with status and latency. 5xx
// responses log at error level.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", sw.status),
				logging.Int("bytes", sw.written),
				logging.Latency(time.Since(start)),
			}
			if id := GetRequestID(r); id != "" {
				fields = append(fields, logging.String("request_id", id))
			}
			if sw.status >= http.StatusInternalServerError {
				logger.Error("request failed", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}
