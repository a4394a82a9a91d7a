// Package server assembles the runtime shared by the malaphor binaries: the
// pipeline, report fanout, storage clients, notifications, and a signal
// aware run loop.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dd0wney/malaphor/pkg/api"
	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/auth"
	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/health"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/metrics"
	"github.com/dd0wney/malaphor/pkg/notify"
	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/report"
	"github.com/dd0wney/malaphor/pkg/sources"
)

// ErrSourceSelection is returned when a request names no source or more
// than one.
var ErrSourceSelection = errors.New("exactly one event source must be selected")

// Stack holds the components built from one Config.
type Stack struct {
	Config   config.Config
	Logger   logging.Logger
	Metrics  *metrics.Registry
	Health   *health.HealthChecker
	Pipeline *pipeline.Pipeline
	Archive  *report.Archive
	S3       *s3.Client
	Sinks    []report.Sink
	Notifier *notify.Publisher
	Audit    *audit.Ring
	Journal  *audit.Journal

	closers []func() error
}

// Build creates every component cfg enables. Components whose config is
// empty are left nil.
func Build(ctx context.Context, cfg config.Config, logger logging.Logger) (*Stack, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Stack{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewRegistry(),
		Health:  health.NewHealthChecker(),
	}

	p, err := pipeline.FromConfig(cfg, logger, s.Metrics)
	if err != nil {
		return nil, err
	}
	s.Pipeline = p

	if dir := cfg.Storage.ArchiveDir; dir != "" {
		archive, err := report.NewArchive(dir)
		if err != nil {
			return nil, err
		}
		s.Archive = archive
	}

	if s3cfg := cfg.Storage.S3; s3cfg.Bucket != "" {
		client, err := sources.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		s.S3 = client
		s.Sinks = append(s.Sinks, report.NewS3Sink(client, s3cfg.Bucket, s3cfg.ReportPrefix))
		s.Health.RegisterReadinessCheck("s3", health.PingCheck("s3", func(ctx context.Context) error {
			_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s3cfg.Bucket)})
			return err
		}))
	}

	if addr := cfg.Notify.PublishAddr; addr != "" {
		pub, err := notify.NewPublisher(addr, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Notifier = pub
		s.closers = append(s.closers, pub.Close)
	}

	if path := cfg.Storage.AuditLog; path != "" {
		j, err := audit.OpenJournal(path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Journal = j
		s.closers = append(s.closers, j.Close)
		s.Audit = audit.NewRing(cfg.Server.AuditBuffer, j)
	} else {
		s.Audit = audit.NewRing(cfg.Server.AuditBuffer, nil)
	}

	logger.Info("runtime ready",
		logging.Bool("archive", s.Archive != nil),
		logging.Bool("s3", s.S3 != nil),
		logging.Bool("notify", s.Notifier != nil),
		logging.Bool("audit_journal", s.Journal != nil),
	)
	return s, nil
}

// notifier keeps a nil *notify.Publisher out of the report.Notifier
// interface.
func (s *Stack) notifier() report.Notifier {
	if s.Notifier == nil {
		return nil
	}
	return s.Notifier
}

// Fanout delivers results to the archive, the sinks, and subscribers.
func (s *Stack) Fanout() *report.Fanout {
	return &report.Fanout{
		Archive:  s.Archive,
		Sinks:    s.Sinks,
		Notifier: s.notifier(),
		Metrics:  s.Metrics,
		Logger:   s.Logger,
	}
}

// NewAPI builds the HTTP API over the stack.
func (s *Stack) NewAPI() (*api.Server, error) {
	authenticator, err := auth.NewAuthenticator(s.Config.Server)
	if err != nil {
		return nil, err
	}
	return api.NewServer(api.Options{
		Config:   s.Config.Server,
		Pipeline: s.Pipeline,
		Metrics:  s.Metrics,
		Health:   s.Health,
		Auth:     authenticator,
		Archive:  s.Archive,
		Sinks:    s.Sinks,
		Notifier: s.notifier(),
		Audit:    s.Audit,
		Logger:   s.Logger,
	})
}

// ReloadLogLevel returns a ReloadFunc that re-reads path and applies its
// log level. Other settings need a restart.
func (s *Stack) ReloadLogLevel(path string) ReloadFunc {
	return func() error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		level := logging.ParseLevel(cfg.Log.Level)
		s.Logger.SetLevel(level)
		s.Logger.Info("log level applied", logging.String("level", level.String()))
		return nil
	}
}

// Close releases everything Build opened.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// SourceRequest selects where events come from. Exactly one of File, CSV,
// S3Key, and Postgres may be set.
type SourceRequest struct {
	File     string
	CSV      string
	S3Key    string
	Postgres bool

	// Since and Until bound the postgres timestamp window.
	Since int64
	Until int64
}

func (r SourceRequest) selected() int {
	n := 0
	for _, set := range []bool{r.File != "", r.CSV != "", r.S3Key != "", r.Postgres} {
		if set {
			n++
		}
	}
	return n
}

// OpenSource returns the requested source wrapped with storage metrics.
// The release function must be called once the source has been loaded.
func (s *Stack) OpenSource(ctx context.Context, req SourceRequest) (sources.Source, func(), error) {
	if req.selected() != 1 {
		return nil, nil, ErrSourceSelection
	}
	release := func() {}

	var src sources.Source
	switch {
	case req.File != "":
		src = sources.FileSource{Path: req.File}
	case req.CSV != "":
		src = sources.InlineSource{CSV: req.CSV}
	case req.S3Key != "":
		if s.S3 == nil {
			return nil, nil, fmt.Errorf("%w: storage.s3.bucket is not set", sources.ErrNotConfigured)
		}
		s3src, err := sources.NewS3Source(s.S3, s.Config.Storage.S3.Bucket, req.S3Key)
		if err != nil {
			return nil, nil, err
		}
		src = s3src
	case req.Postgres:
		pg, err := sources.NewPostgresSource(ctx, s.Config.Storage.Postgres)
		if err != nil {
			return nil, nil, err
		}
		pg.Since = req.Since
		pg.Until = req.Until
		src = pg
		release = func() {
			if err := pg.Close(); err != nil {
				s.Logger.Warn("failed to close postgres source", logging.Error(err))
			}
		}
	}
	return sources.WithMetrics(src, s.Metrics), release, nil
}
