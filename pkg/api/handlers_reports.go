package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/report"
)

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.respondJSON(w, http.StatusOK, ReportListResponse{Reports: []string{}})
		return
	}
	ids, err := s.archive.List()
	s.audit(r.Context(), audit.ActionListReports, "", "", err)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.respondJSON(w, http.StatusOK, ReportListResponse{Reports: ids, Count: len(ids)})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.Report(r.Context(), id)
	s.audit(r.Context(), audit.ActionReadReport, id, "", err)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	s.respondResult(w, res)
}

// Report loads an archived run. Without an archive every id is unknown.
func (s *Server) Report(_ context.Context, runID string) (*pipeline.Result, error) {
	if s.archive == nil {
		return nil, report.ErrNotFound
	}
	return s.archive.Load(runID)
}

// AnalyzeCSV runs csv through the same path as the upload endpoint. It
// backs the GraphQL analyze query.
func (s *Server) AnalyzeCSV(ctx context.Context, csv string) (*pipeline.Result, error) {
	return s.runAnalysis(ctx, "graphql", func(ctx context.Context) (*pipeline.Result, error) {
		return s.pipeline.RunCSV(ctx, strings.NewReader(csv))
	})
}
