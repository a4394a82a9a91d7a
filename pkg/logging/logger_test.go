package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line is not JSON: %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{" info ", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown", Stage("enumerate"))
	logger.Error("shown too", Error(errors.New("boom")))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["level"] != "WARN" || lines[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v, %v", lines[0]["level"], lines[1]["level"])
	}
	fields := lines[1]["fields"].(map[string]any)
	if fields["error"] != "boom" {
		t.Errorf("error field = %v, want boom", fields["error"])
	}
}

func TestJSONLoggerWithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	child := parent.With(RunID("r-1"), Component("pipeline"))

	parent.SetLevel(ErrorLevel)
	child.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("child ignored parent level change: %q", buf.String())
	}

	child.Error("kept", Count(3))
	lines := decodeLines(t, &buf)
	fields := lines[0]["fields"].(map[string]any)
	if fields["run_id"] != "r-1" || fields["component"] != "pipeline" {
		t.Errorf("preset fields missing: %v", fields)
	}
	if fields["count"] != float64(3) {
		t.Errorf("count = %v, want 3", fields["count"])
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	timer := StartTimer(logger, "stage finished", Stage("build"))
	time.Sleep(time.Millisecond)
	if d := timer.End(Int("entities", 4)); d <= 0 {
		t.Errorf("End returned non-positive duration %v", d)
	}
	timer.EndError(errors.New("failed"))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	first := lines[0]["fields"].(map[string]any)
	if first["stage"] != "build" || first["entities"] != float64(4) || first["latency"] == nil {
		t.Errorf("unexpected fields: %v", first)
	}
	if lines[1]["level"] != "ERROR" {
		t.Errorf("EndError level = %v", lines[1]["level"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("ignored")
	if logger.With(String("a", "b")) == nil {
		t.Error("With returned nil")
	}
}
