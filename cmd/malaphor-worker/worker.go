package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/malaphor/pkg/events"
	"github.com/dd0wney/malaphor/pkg/health"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/queue"
	"github.com/dd0wney/malaphor/pkg/server"
	"github.com/dd0wney/malaphor/pkg/sources"
	"github.com/dd0wney/malaphor/pkg/validation"
)

// failureThreshold consecutive failed jobs degrade the analysis check.
const failureThreshold = 5

type worker struct {
	stack  *server.Stack
	runs   *health.RunTracker
	logger logging.Logger
}

func newWorker(stack *server.Stack) *worker {
	w := &worker{
		stack:  stack,
		runs:   &health.RunTracker{},
		logger: stack.Logger.With(logging.Component("worker")),
	}
	stack.Health.RegisterLivenessCheck("worker", health.SimpleCheck("worker"))
	stack.Health.RegisterCheck("analysis", w.runs.Check(failureThreshold))
	return w
}

func (w *worker) request(job queue.Job) (server.SourceRequest, error) {
	switch job.Source {
	case queue.SourceInline:
		return server.SourceRequest{CSV: job.CSV}, nil
	case queue.SourceS3:
		return server.SourceRequest{S3Key: job.Key}, nil
	case queue.SourcePostgres:
		return server.SourceRequest{Postgres: true, Since: job.Since, Until: job.Until}, nil
	default:
		return server.SourceRequest{}, fmt.Errorf("%w: unknown source %q", queue.ErrInvalidJob, job.Source)
	}
}

// handle runs one job end to end. Errors that a retry cannot fix are
// marked permanent so the job goes straight to the dead-letter queue.
func (w *worker) handle(ctx context.Context, job queue.Job) error {
	err := w.run(ctx, job)
	w.runs.Record(err)
	return classify(err)
}

func (w *worker) run(ctx context.Context, job queue.Job) error {
	log := w.logger.With(logging.String("job_id", job.ID), logging.String("source", job.Source))

	req, err := w.request(job)
	if err != nil {
		return err
	}
	src, release, err := w.stack.OpenSource(ctx, req)
	if err != nil {
		return err
	}
	evs, err := src.Load(ctx)
	release()
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	res, err := w.stack.Pipeline.Run(ctx, evs)
	if err != nil {
		return err
	}
	location := w.stack.Fanout().Deliver(ctx, res, "job:"+job.ID)
	log.Info("job finished",
		logging.RunID(res.RunID),
		logging.Int("paths", len(res.RiskyPaths)),
		logging.Bool("truncated", res.Truncated),
		logging.String("report", location),
	)
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		rowErr   *events.ValidationError
		fieldErr *validation.FieldError
	)
	switch {
	case errors.As(err, &rowErr),
		errors.As(err, &fieldErr),
		errors.Is(err, events.ErrEmptyEvents),
		errors.Is(err, queue.ErrInvalidJob),
		errors.Is(err, sources.ErrNotConfigured),
		errors.Is(err, server.ErrSourceSelection):
		return queue.Permanent(err)
	}
	return err
}

// opsHandler serves health and metrics for the worker process.
func (w *worker) opsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", w.stack.Health.HTTPHandler())
	mux.HandleFunc("GET /health/live", w.stack.Health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", w.stack.Health.ReadinessHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(
		w.stack.Metrics.GetPrometheusRegistry(),
		promhttp.HandlerOpts{},
	))
	return mux
}
