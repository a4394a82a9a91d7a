// Package sources loads event tables from files, S3 objects, and Postgres.
package sources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dd0wney/malaphor/pkg/events"
)

// ErrNotConfigured is returned when a source is selected without the
// settings it needs.
var ErrNotConfigured = errors.New("source not configured")

// Source yields one event table. Rows come back in a stable order so that
// repeated loads analyse identically.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]events.Event, error)
}

// StorageRecorder is satisfied by *metrics.Registry.
type StorageRecorder interface {
	RecordStorageOperation(backend, operation string, err error, duration time.Duration)
}

// FileSource reads a CSV event table from disk.
type FileSource struct {
	Path string
}

func (f FileSource) Name() string {
	return "file"
}

func (f FileSource) Load(ctx context.Context) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer file.Close()

	return events.ReadCSV(file)
}

// InlineSource parses a CSV event table held in memory.
type InlineSource struct {
	CSV string
}

func (s InlineSource) Name() string {
	return "inline"
}

func (s InlineSource) Load(ctx context.Context) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return events.ReadCSV(strings.NewReader(s.CSV))
}

type instrumented struct {
	Source
	rec StorageRecorder
}

// WithMetrics records the duration and outcome of every Load.
func WithMetrics(src Source, rec StorageRecorder) Source {
	if rec == nil {
		return src
	}
	return instrumented{Source: src, rec: rec}
}

func (s instrumented) Load(ctx context.Context) ([]events.Event, error) {
	start := time.Now()
	evs, err := s.Source.Load(ctx)
	s.rec.RecordStorageOperation(s.Source.Name(), "load", err, time.Since(start))
	return evs, err
}
