// Package api serves the analysis pipeline over HTTP: CSV upload, JSON
// analysis requests, archived reports, GraphQL, the audit trail, health and
// metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/malaphor/pkg/api/middleware"
	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/auth"
	"github.com/dd0wney/malaphor/pkg/graphql"
	"github.com/dd0wney/malaphor/pkg/health"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/report"
	servertls "github.com/dd0wney/malaphor/pkg/tls"
)

// failureThreshold consecutive failed runs degrade the analysis check.
const failureThreshold = 5

const shutdownTimeout = 15 * time.Second

// NewServer builds a Server and registers its health checks.
func NewServer(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("api: pipeline is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Health == nil {
		opts.Health = health.NewHealthChecker()
	}

	s := &Server{
		config:          opts.Config,
		pipeline:        opts.Pipeline,
		metricsRegistry: opts.Metrics,
		healthChecker:   opts.Health,
		authenticator:   opts.Auth,
		archive:         opts.Archive,
		auditLog:        opts.Audit,
		logger:          opts.Logger.With(logging.Component("api")),
		runs:            &health.RunTracker{},
		startTime:       time.Now(),
	}
	s.fanout = &report.Fanout{
		Archive:    opts.Archive,
		Sinks:      opts.Sinks,
		Notifier:   opts.Notifier,
		Logger:     s.logger,
		ArchiveURL: func(runID string) string { return "/api/v1/reports/" + runID },
	}
	if opts.Metrics != nil {
		s.fanout.Metrics = opts.Metrics
	}

	schema, err := graphql.NewSchema(s)
	if err != nil {
		return nil, err
	}
	s.graphqlHandler = graphql.NewHandler(schema, graphql.DefaultMaxDepth)

	if s.tlsConfig, err = servertls.Load(s.config.TLS); err != nil {
		return nil, err
	}

	if s.config.RateLimit > 0 {
		cfg := middleware.DefaultRateLimitConfig()
		cfg.RequestsPerSecond = s.config.RateLimit
		if s.config.RateBurst > 0 {
			cfg.BurstSize = s.config.RateBurst
		}
		s.rateLimiter = middleware.NewRateLimiter(cfg, s.logger)
	}

	s.healthChecker.RegisterLivenessCheck("server", health.SimpleCheck("server"))
	s.healthChecker.RegisterCheck("analysis", s.runs.Check(failureThreshold))
	if s.archive != nil {
		s.healthChecker.RegisterReadinessCheck("archive", health.WritableDirCheck("archive", s.archive.Dir()))
	}
	return s, nil
}

// Handler returns the routed handler with the full middleware chain.
func (s *Server) Handler() (http.Handler, error) {
	trusted, err := middleware.ParseTrustedProxies(s.config.TrustedProxies)
	if err != nil {
		return nil, err
	}

	onAuthFailure := func(r *http.Request, err error) {
		if s.metricsRegistry != nil {
			s.metricsRegistry.RecordAuthFailure()
		}
		s.audit(r.Context(), audit.ActionAuth, "", r.URL.Path, err)
	}
	admin := middleware.Auth(s.authenticator, auth.RoleAdmin, onAuthFailure)
	analyst := middleware.Auth(s.authenticator, auth.RoleAnalyst, onAuthFailure)
	viewer := middleware.Auth(s.authenticator, auth.RoleViewer, onAuthFailure)
	limit := middleware.BodySizeLimit(s.config.MaxUploadBytes)

	mux := http.NewServeMux()

	mux.Handle("POST /upload", analyst(limit(http.HandlerFunc(s.handleUpload))))
	mux.Handle("POST /api/v1/analyze", analyst(limit(http.HandlerFunc(s.handleAnalyze))))
	mux.Handle("GET /api/v1/reports", viewer(http.HandlerFunc(s.handleListReports)))
	mux.Handle("GET /api/v1/reports/{id}", viewer(http.HandlerFunc(s.handleGetReport)))
	mux.Handle("/graphql", analyst(limit(s.graphqlHandler)))
	if s.auditLog != nil {
		mux.Handle("GET /api/v1/audit", admin(http.HandlerFunc(s.handleAudit)))
	}

	mux.HandleFunc("GET /health", s.healthChecker.HTTPHandler())
	mux.HandleFunc("GET /health/live", s.healthChecker.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.healthChecker.ReadinessHandler())
	if s.metricsRegistry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metricsRegistry.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	}

	var recorder middleware.MetricsRecorder
	if s.metricsRegistry != nil {
		recorder = s.metricsRegistry
	}
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = s.config.AllowedOrigins

	clientIP := middleware.ClientIP(trusted)

	// Metrics sits next to the mux so it sees the matched route pattern.
	var h http.Handler = middleware.Metrics(recorder)(mux)
	h = withRequestInfo(clientIP)(h)
	h = middleware.RateLimit(s.rateLimiter, clientIP)(h)
	h = middleware.CORS(cors)(h)
	h = middleware.SecurityHeaders(s.tlsConfig != nil)(h)
	h = middleware.PanicRecovery(s.logger)(h)
	h = middleware.Logging(s.logger)(h)
	h = middleware.RequestID()(h)
	return h, nil
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		TLSConfig:         s.tlsConfig,
	}

	if s.metricsRegistry != nil {
		go s.updateMetricsPeriodically(ctx)
	}
	if s.rateLimiter != nil {
		defer s.rateLimiter.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			logging.String("addr", s.config.Addr),
			logging.Bool("tls", s.tlsConfig != nil))
		if s.tlsConfig != nil {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

func (s *Server) updateMetricsPeriodically(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	s.metricsRegistry.UpdateSystemMetrics(s.startTime)
	for {
		select {
		case <-ticker.C:
			s.metricsRegistry.UpdateSystemMetrics(s.startTime)
		case <-ctx.Done():
			return
		}
	}
}
