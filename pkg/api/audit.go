package api

import (
	"context"
	"net/http"

	"github.com/dd0wney/malaphor/pkg/api/middleware"
	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/auth"
	"github.com/dd0wney/malaphor/pkg/logging"
)

type requestInfoKey struct{}

// requestInfo is the caller detail copied into audit events.
type requestInfo struct {
	ip        string
	userAgent string
	requestID string
}

// withRequestInfo stores caller detail in the request context so that code
// reached only through a context, such as GraphQL resolvers, can audit.
func withRequestInfo(clientIP middleware.ClientIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := requestInfo{
				ip:        clientIP(r),
				userAgent: r.UserAgent(),
				requestID: middleware.GetRequestID(r),
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))
		})
	}
}

// audit records one event when an audit log is configured.
func (s *Server) audit(ctx context.Context, action audit.Action, runID, source string, err error) {
	if s.auditLog == nil {
		return
	}
	e := &audit.Event{
		Action: action,
		RunID:  runID,
		Source: source,
		Status: audit.StatusSuccess,
	}
	if err != nil {
		e.Status = audit.StatusFailure
		e.ErrorMessage = err.Error()
	}
	if p, ok := auth.PrincipalFrom(ctx); ok {
		e.Subject = p.Subject
		e.Role = p.Role
	}
	if info, ok := ctx.Value(requestInfoKey{}).(requestInfo); ok {
		e.IPAddress = info.ip
		e.UserAgent = info.userAgent
		e.RequestID = info.requestID
	}
	if err := s.auditLog.Log(e); err != nil {
		s.logger.Error("failed to record audit event", logging.Error(err), logging.String("action", string(action)))
	}
}
