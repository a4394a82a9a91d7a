package events

import (
	"errors"
	"math"
	"strings"
	"unicode"

	"github.com/dd0wney/malaphor/pkg/validation"
)

// Validate checks every row and returns a *ValidationError for the first
// malformed one. An empty table returns ErrEmptyEvents. Nothing is dropped or
// repaired: a table either validates completely or not at all.
func Validate(evs []Event) error {
	if len(evs) == 0 {
		return ErrEmptyEvents
	}
	for i := range evs {
		if err := ValidateEvent(&evs[i]); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Row = i + 1
			}
			return err
		}
	}
	return nil
}

// ValidateEvent checks a single row. The returned error has Row unset.
func ValidateEvent(ev *Event) error {
	if err := validation.Struct(ev); err != nil {
		var fe *validation.FieldError
		if errors.As(err, &fe) {
			return &ValidationError{Field: fe.Field, Reason: strings.TrimPrefix(fe.Error(), fe.Field+": ")}
		}
		return &ValidationError{Field: "row", Reason: err.Error()}
	}

	for _, id := range []struct {
		field, value string
	}{
		{"source_id", ev.SourceID},
		{"target_id", ev.TargetID},
	} {
		if reason := malformedID(id.value); reason != "" {
			return &ValidationError{Field: id.field, Reason: reason}
		}
	}

	for _, f := range []struct {
		field string
		value float64
	}{
		{"feature1", ev.Feature1},
		{"feature2", ev.Feature2},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Field: f.field, Reason: "must be a finite number"}
		}
	}
	return nil
}

func malformedID(id string) string {
	if strings.TrimSpace(id) == "" {
		return "must not be blank"
	}
	if strings.TrimSpace(id) != id {
		return "must not have leading or trailing whitespace"
	}
	for _, r := range id {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return "contains control or invalid characters"
		}
	}
	return ""
}
