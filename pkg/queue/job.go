// Package queue carries analysis jobs over RabbitMQ. Failed jobs are retried
// through a TTL queue and end up in a dead-letter queue once they are
// rejected as permanent or run out of attempts.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dd0wney/malaphor/pkg/validation"
)

// Job sources.
const (
	SourceInline   = "inline"
	SourceS3       = "s3"
	SourcePostgres = "postgres"
)

// ErrInvalidJob is returned for messages that can never be processed.
var ErrInvalidJob = errors.New("invalid job")

// Job asks a worker to analyse one event table.
type Job struct {
	ID     string `json:"id" validate:"required,max=128"`
	Source string `json:"source" validate:"required,oneof=inline s3 postgres"`

	// Key is the S3 object key or prefix for s3 jobs.
	Key string `json:"key,omitempty" validate:"required_if=Source s3"`

	// CSV holds the event table for inline jobs.
	CSV string `json:"csv,omitempty" validate:"required_if=Source inline"`

	// Since and Until bound the timestamp window of postgres jobs.
	Since int64 `json:"since,omitempty"`
	Until int64 `json:"until,omitempty" validate:"omitempty,gtfield=Since"`
}

// Decode parses and validates a message body.
func Decode(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if err := validation.Struct(&job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return job, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying; the job goes straight to the
// dead-letter queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked
// Permanent or is an invalid job.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, ErrInvalidJob)
}
