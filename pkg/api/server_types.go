package api

import (
	"crypto/tls"
	"time"

	"github.com/dd0wney/malaphor/pkg/api/middleware"
	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/auth"
	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/graphql"
	"github.com/dd0wney/malaphor/pkg/health"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/metrics"
	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/report"
)

// Options wires a Server. Pipeline is required; everything else is
// optional and disabled when nil.
type Options struct {
	Config   config.ServerConfig
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Registry
	Health   *health.HealthChecker
	Auth     *auth.Authenticator
	Archive  *report.Archive
	Sinks    []report.Sink
	Notifier report.Notifier
	Audit    *audit.Ring
	Logger   logging.Logger
}

// Server is the malaphor HTTP API.
type Server struct {
	config          config.ServerConfig
	pipeline        *pipeline.Pipeline
	metricsRegistry *metrics.Registry
	healthChecker   *health.HealthChecker
	authenticator   *auth.Authenticator
	archive         *report.Archive
	fanout          *report.Fanout
	auditLog        *audit.Ring
	logger          logging.Logger
	runs            *health.RunTracker
	rateLimiter     *middleware.RateLimiter
	graphqlHandler  *graphql.Handler
	tlsConfig       *tls.Config
	startTime       time.Time
}
