// Package audit records who ran which analysis and who read which report.
// Events are kept in a bounded in-memory ring for the API and can be
// forwarded to an append-only, hash-chained journal on disk.
package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action types for audit events
type Action string

const (
	ActionAnalyze     Action = "analyze"
	ActionReadReport  Action = "read_report"
	ActionListReports Action = "list_reports"
	ActionAuth        Action = "auth"
)

// Status represents the outcome of an action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event represents a single audit log entry
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Subject      string         `json:"subject,omitempty"`
	Role         string         `json:"role,omitempty"`
	Action       Action         `json:"action"`
	RunID        string         `json:"run_id,omitempty"`
	Source       string         `json:"source,omitempty"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (e *Event) String() string {
	subject := e.Subject
	if subject == "" {
		subject = "anonymous"
	}
	return fmt.Sprintf("[%s] %s %s run=%s (status: %s)",
		e.Timestamp.Format(time.RFC3339), subject, e.Action, e.RunID, e.Status)
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Subject string
	Action  Action
	Status  Status
	RunID   string
	Since   time.Time
}

func (f *Filter) matches(e *Event) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Subject != "" && e.Subject != f.Subject:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.RunID != "" && e.RunID != f.RunID:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// Logger records audit events. *Ring and *Journal implement it.
type Logger interface {
	Log(event *Event) error
}

// DefaultRingSize is used when NewRing gets a non-positive size.
const DefaultRingSize = 1000

// Ring keeps the most recent events in a circular buffer and forwards
// every event to an optional durable logger.
type Ring struct {
	mu      sync.RWMutex
	events  []*Event
	index   int
	count   int
	total   int64
	forward Logger
}

func NewRing(size int, forward Logger) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{events: make([]*Event, size), forward: forward}
}

// Log stores event, filling in its ID and timestamp, then forwards it. The
// event stays in the ring even when forwarding fails.
func (r *Ring) Log(event *Event) error {
	if event == nil {
		return errors.New("audit: nil event")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	r.mu.Lock()
	r.events[r.index] = event
	r.index = (r.index + 1) % len(r.events)
	if r.count < len(r.events) {
		r.count++
	}
	r.total++
	r.mu.Unlock()

	if r.forward != nil {
		if err := r.forward.Log(event); err != nil {
			return fmt.Errorf("audit: forward event: %w", err)
		}
	}
	return nil
}

// Recent returns up to limit matching events, newest first. A non-positive
// limit returns every match.
func (r *Ring) Recent(filter *Filter, limit int) []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := len(r.events)
	out := make([]*Event, 0, min(r.count, max(limit, 0)))
	for i := 0; i < r.count; i++ {
		e := r.events[(r.index-1-i+size)%size]
		if e == nil || !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Total returns how many events were ever logged, including evicted ones.
func (r *Ring) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
