// Package events defines the relationship event rows the analysis consumes,
// along with their CSV codec, row validation, and a synthetic sample generator.
package events

import (
	"errors"
	"fmt"
)

// Columns is the fixed column set of an event table, in canonical order.
var Columns = []string{
	"source_id",
	"source_type",
	"target_id",
	"target_type",
	"relationship_type",
	"timestamp",
	"feature1",
	"feature2",
}

// Event is one directed relationship observed between two entities.
type Event struct {
	SourceID         string  `json:"source_id" validate:"required,max=512"`
	SourceType       string  `json:"source_type" validate:"required,max=128"`
	TargetID         string  `json:"target_id" validate:"required,max=512"`
	TargetType       string  `json:"target_type" validate:"required,max=128"`
	RelationshipType string  `json:"relationship_type" validate:"required,max=128"`
	Timestamp        int64   `json:"timestamp"`
	Feature1         float64 `json:"feature1"`
	Feature2         float64 `json:"feature2"`
}

var (
	// ErrEmptyEvents is returned when an event table has no rows.
	ErrEmptyEvents = errors.New("event table is empty")

	// ErrInvalidEvent is the sentinel wrapped by every ValidationError.
	ErrInvalidEvent = errors.New("invalid event")
)

// ValidationError reports the first malformed row of an event table. Row is
// 1-based over data rows; Row 0 refers to the header.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("invalid event table header: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid event at row %d: %s: %s", e.Row, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}
