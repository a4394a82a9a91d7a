package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dd0wney/malaphor/pkg/events"
	"github.com/dd0wney/malaphor/pkg/logging"
	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/report"
)

// respondJSON encodes data before writing the status, so an unencodable
// value becomes a 500 instead of an empty success.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorResponse{
			Error:   http.StatusText(status),
			Message: "failed to encode response",
			Code:    status,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Warn("failed to write response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// respondFailure maps err onto a status and a message safe to show the
// client. Input errors are echoed; everything else is logged and replaced.
func (s *Server) respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.respondError(w, status, msg)
}

func errorStatus(err error) (int, string) {
	var (
		verr     *events.ValidationError
		stageErr *pipeline.StageError
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, events.ErrEmptyEvents):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, report.ErrNotFound):
		return http.StatusNotFound, "report not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "analysis timed out"
	case errors.Is(err, context.Canceled):
		// Client went away; the status is never seen.
		return 499, "request cancelled"
	case errors.As(err, &stageErr):
		return http.StatusInternalServerError, "analysis failed at stage " + string(stageErr.Stage)
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
