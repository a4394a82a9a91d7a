package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is the structured logger used across the analysis pipeline and its services.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// With returns a child logger that always carries fields.
	With(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// entry is one JSON log line.
type entry struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// JSONLogger writes one JSON object per line. Child loggers created with With
// share the writer lock of their parent so lines never interleave.
type JSONLogger struct {
	out    *lockedWriter
	level  *levelVar
	fields []Field
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

type levelVar struct {
	mu sync.RWMutex
	l  Level
}

// NewJSONLogger creates a logger writing to w at the given level.
func NewJSONLogger(w io.Writer, level Level) *JSONLogger {
	return &JSONLogger{
		out:   &lockedWriter{w: w},
		level: &levelVar{l: level},
	}
}

func (l *JSONLogger) log(level Level, msg string, fields ...Field) {
	if level < l.GetLevel() {
		return
	}

	e := entry{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	if n := len(l.fields) + len(fields); n > 0 {
		e.Fields = make(map[string]any, n)
		for _, f := range l.fields {
			e.Fields[f.Key] = f.Value
		}
		for _, f := range fields {
			e.Fields[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(e)

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if err != nil {
		fmt.Fprintf(l.out.w, `{"level":"ERROR","msg":"unencodable log entry","error":%q}`+"\n", err.Error())
		return
	}
	l.out.w.Write(append(data, '\n'))
}

func (l *JSONLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

func (l *JSONLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

func (l *JSONLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

func (l *JSONLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

func (l *JSONLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &JSONLogger{out: l.out, level: l.level, fields: merged}
}

// SetLevel changes the level for this logger and every logger derived from it.
func (l *JSONLogger) SetLevel(level Level) {
	l.level.mu.Lock()
	l.level.l = level
	l.level.mu.Unlock()
}

func (l *JSONLogger) GetLevel() Level {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return l.level.l
}

// NopLogger discards everything. Tests use it to keep output quiet.
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}

func (n NopLogger) With(...Field) Logger { return n }

func (NopLogger) SetLevel(Level) {}

func (NopLogger) GetLevel() Level { return ErrorLevel }

// NewNopLogger returns a Logger that drops all output.
func NewNopLogger() Logger { return NopLogger{} }

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
	defaultOnce   sync.Once
)

// DefaultLogger returns the process-wide logger. It writes to stderr at the
// level named by LOG_LEVEL (INFO when unset).
func DefaultLogger() Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = NewJSONLogger(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")))
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger.
func SetDefaultLogger(logger Logger) {
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}
