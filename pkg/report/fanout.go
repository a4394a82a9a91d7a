package report

import (
	"context"
	"time"

	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/notify"
	"github.com/dd0wney/malaphor/pkg/pipeline"
)

// Notifier announces run summaries. *notify.Publisher implements it.
type Notifier interface {
	Publish(notify.Summary) error
}

// Recorder receives delivery measurements. *metrics.Registry implements it.
type Recorder interface {
	RecordStorageOperation(backend, operation string, err error, duration time.Duration)
	RecordNotification(err error)
}

// Fanout stores a finished result in the archive and every sink, then
// publishes its summary. Every part is optional.
type Fanout struct {
	Archive  *Archive
	Sinks    []Sink
	Notifier Notifier
	Metrics  Recorder
	Logger   logging.Logger

	// ArchiveURL turns a run id into the location announced for archived
	// runs. The default is the archive file path.
	ArchiveURL func(runID string) string
}

// Deliver saves and announces res and returns the announced location:
// the first sink URL, else the archive location, else "". Failures are
// logged and never returned; the analysis already succeeded.
func (f *Fanout) Deliver(ctx context.Context, res *pipeline.Result, source string) string {
	if f == nil {
		return ""
	}
	logger := f.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.RunID(res.RunID))

	var archived, stored string
	if f.Archive != nil {
		path, err := f.save(ctx, "archive", f.Archive, res)
		if err != nil {
			logger.Warn("failed to archive report", logging.Error(err))
		} else if f.ArchiveURL != nil {
			archived = f.ArchiveURL(res.RunID)
		} else {
			archived = path
		}
	}
	for _, sink := range f.Sinks {
		url, err := f.save(ctx, "sink", sink, res)
		if err != nil {
			logger.Warn("failed to store report", logging.Error(err))
			continue
		}
		if stored == "" {
			stored = url
		}
	}

	location := stored
	if location == "" {
		location = archived
	}

	if f.Notifier != nil {
		err := f.Notifier.Publish(notify.Summarize(res, source, location))
		if f.Metrics != nil {
			f.Metrics.RecordNotification(err)
		}
		if err != nil {
			logger.Warn("failed to publish run summary", logging.Error(err))
		}
	}
	return location
}

func (f *Fanout) save(ctx context.Context, backend string, sink Sink, res *pipeline.Result) (string, error) {
	start := time.Now()
	url, err := sink.Save(ctx, res)
	if f.Metrics != nil {
		f.Metrics.RecordStorageOperation(backend, "save", err, time.Since(start))
	}
	return url, err
}
