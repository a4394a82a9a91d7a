package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/validation"
)

const defaultAuditLimit = 100

// handleAudit lists recent audit events, newest first. Query parameters:
// limit, action, status, subject, run_id and since (RFC 3339).
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit: must be an integer")
			return
		}
		limit = n
	}
	if err := validation.Var("limit", limit, "gte=1,lte=1000"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Var("action", q.Get("action"), "omitempty,oneof=analyze read_report list_reports auth"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Var("status", q.Get("status"), "omitempty,oneof=success failure"); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := &audit.Filter{
		Subject: q.Get("subject"),
		Action:  audit.Action(q.Get("action")),
		Status:  audit.Status(q.Get("status")),
		RunID:   q.Get("run_id"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "since: must be an RFC 3339 time")
			return
		}
		filter.Since = since
	}

	events := s.auditLog.Recent(filter, limit)
	s.respondJSON(w, http.StatusOK, AuditResponse{
		Events: events,
		Count:  len(events),
		Total:  s.auditLog.Total(),
	})
}
