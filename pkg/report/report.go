// Package report renders analysis results and persists them to local
// archives and object storage.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dd0wney/malaphor/pkg/pipeline"
)

// ErrNotFound is returned when an archived report does not exist.
var ErrNotFound = errors.New("report not found")

// Sink stores a finished result and returns where it went.
type Sink interface {
	Save(ctx context.Context, res *pipeline.Result) (string, error)
}

// WriteJSON writes res as indented JSON.
func WriteJSON(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(r io.Reader) (*pipeline.Result, error) {
	var res pipeline.Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &res, nil
}
