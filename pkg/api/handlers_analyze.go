package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dd0wney/malaphor/pkg/audit"
	"github.com/dd0wney/malaphor/pkg/pipeline"
	"github.com/dd0wney/malaphor/pkg/validation"
)

// multipartMemory is the part of an upload kept in memory; the rest spills
// to temporary files.
const multipartMemory = 8 << 20

// handleUpload runs the CSV sent in the multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, `missing form field "file"`)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		s.respondError(w, http.StatusBadRequest, "only .csv files are accepted")
		return
	}

	res, err := s.runAnalysis(r.Context(), "upload:"+filepath.Base(header.Filename), func(ctx context.Context) (*pipeline.Result, error) {
		return s.pipeline.RunCSV(ctx, file)
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	s.respondResult(w, res)
}

// handleAnalyze runs an event list or inline CSV from a JSON body.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Events) > 0 && req.CSV != "" {
		s.respondError(w, http.StatusBadRequest, "set either events or csv, not both")
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	res, err := s.runAnalysis(r.Context(), source, func(ctx context.Context) (*pipeline.Result, error) {
		if req.CSV != "" {
			return s.pipeline.RunCSV(ctx, strings.NewReader(req.CSV))
		}
		return s.pipeline.Run(ctx, req.Events)
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	s.respondResult(w, res)
}

func (s *Server) respondResult(w http.ResponseWriter, res *pipeline.Result) {
	w.Header().Set("X-Run-ID", res.RunID)
	s.respondJSON(w, http.StatusOK, res)
}

// runAnalysis runs one analysis, then archives and announces the result.
func (s *Server) runAnalysis(ctx context.Context, source string, run func(context.Context) (*pipeline.Result, error)) (*pipeline.Result, error) {
	res, err := run(ctx)
	s.runs.Record(err)
	if err != nil {
		s.audit(ctx, audit.ActionAnalyze, "", source, err)
		return nil, err
	}
	s.audit(ctx, audit.ActionAnalyze, res.RunID, source, nil)
	s.fanout.Deliver(ctx, res, source)
	return res, nil
}
