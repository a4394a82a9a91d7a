package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/events"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/notify"
	"github.com/dd0wney/malaphor/pkg/sources"
)

func sampleCSV(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := events.WriteCSV(&buf, events.GenerateSample(time.Unix(1_700_000_000, 0))); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestBuildDefaults(t *testing.T) {
	s, err := Build(context.Background(), config.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()

	if s.Pipeline == nil || s.Metrics == nil || s.Health == nil {
		t.Fatal("core components must always be built")
	}
	if s.Archive != nil || s.S3 != nil || s.Notifier != nil {
		t.Error("optional components should stay nil without config")
	}
	if f := s.Fanout(); f.Notifier != nil {
		t.Error("fanout must not carry a nil publisher")
	}
	if _, err := s.NewAPI(); err != nil {
		t.Errorf("NewAPI: %v", err)
	}
}

func TestBuildArchiveAndNotify(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.ArchiveDir = filepath.Join(t.TempDir(), "reports")
	cfg.Notify.PublishAddr = fmt.Sprintf("inproc://malaphor-stack-%d", time.Now().UnixNano())

	s, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()

	sub, err := notify.Subscribe(cfg.Notify.PublishAddr)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	src, release, err := s.OpenSource(ctx, SourceRequest{CSV: sampleCSV(t)})
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer release()
	evs, err := src.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	res, err := s.Pipeline.Run(ctx, evs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	location := s.Fanout().Deliver(ctx, res, "test")
	if want := filepath.Join(cfg.Storage.ArchiveDir, res.RunID+".json.sz"); location != want {
		t.Errorf("location = %q, want %q", location, want)
	}
	if _, err := s.Archive.Load(res.RunID); err != nil {
		t.Errorf("archived run not found: %v", err)
	}

	summary, err := sub.Next(2 * time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if summary.RunID != res.RunID || summary.Source != "test" {
		t.Errorf("unexpected summary: %+v", summary)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.Notifier.Publish(summary); !errors.Is(err, notify.ErrClosed) {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
}

func TestBuildAuditJournal(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AuditBuffer = 5
	cfg.Storage.AuditLog = filepath.Join(t.TempDir(), "audit", "events.jsonl")

	s, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Journal == nil || s.Audit == nil {
		t.Fatal("audit journal not opened")
	}
	for i := 0; i < 3; i++ {
		if err := s.Audit.Log(&audit.Event{Action: audit.ActionAnalyze, Status: audit.StatusSuccess}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n, err := audit.Verify(cfg.Storage.AuditLog)
	if err != nil || n != 3 {
		t.Errorf("Verify = %d, %v; want 3 records", n, err)
	}
}

func TestBuildRejectsBadPipelineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.MaxPathLength = 1
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Error("expected an error for max_path_length 1")
	}
}

func TestOpenSource(t *testing.T) {
	s, err := Build(context.Background(), config.Default(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "events.csv")
	if err := os.WriteFile(path, []byte(sampleCSV(t)), 0o600); err != nil {
		t.Fatal(err)
	}

	src, release, err := s.OpenSource(ctx, SourceRequest{File: path})
	if err != nil {
		t.Fatalf("OpenSource(file): %v", err)
	}
	release()
	if src.Name() != "file" {
		t.Errorf("Name() = %q, want file", src.Name())
	}
	evs, err := src.Load(ctx)
	if err != nil || len(evs) == 0 {
		t.Errorf("Load = %d events, %v", len(evs), err)
	}

	tests := []struct {
		name string
		req  SourceRequest
		want error
	}{
		{"none", SourceRequest{}, ErrSourceSelection},
		{"two", SourceRequest{File: path, S3Key: "events/"}, ErrSourceSelection},
		{"s3 without bucket", SourceRequest{S3Key: "events/"}, sources.ErrNotConfigured},
		{"postgres without url", SourceRequest{Postgres: true}, sources.ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.OpenSource(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("OpenSource = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReloadLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewJSONLogger(&buf, logging.InfoLevel)
	s, err := Build(context.Background(), config.Default(), logger)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()

	path := filepath.Join(t.TempDir(), "malaphor.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "debug")

	if err := s.ReloadLogLevel(path)(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := logger.GetLevel(); got != logging.DebugLevel {
		t.Errorf("level = %v, want DEBUG", got)
	}

	if err := s.ReloadLogLevel(filepath.Join(t.TempDir(), "missing.yaml"))(); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
