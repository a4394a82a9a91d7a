package api

import (
	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/events"
)

// AnalyzeRequest is the body of POST /api/v1/analyze. Exactly one of
// Events or CSV is set.
type AnalyzeRequest struct {
	Events []events.Event `json:"events,omitempty"`
	CSV    string         `json:"csv,omitempty"`

	// Source labels the run in notifications.
	Source string `json:"source,omitempty" validate:"max=256"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// ReportListResponse lists archived run ids.
type ReportListResponse struct {
	Reports []string `json:"reports"`
	Count   int      `json:"count"`
}

// AuditResponse is the body of GET /api/v1/audit.
type AuditResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
	Total  int64          `json:"total"`
}
