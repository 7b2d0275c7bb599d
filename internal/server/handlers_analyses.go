package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/jonathan/resume-analyzer/internal/pipeline"
	"github.com/jonathan/resume-analyzer/internal/server/middleware"
	"github.com/jonathan/resume-analyzer/internal/types"
)

// Multipart form field names
const (
	fieldFile           = "file"
	fieldCompanyName    = "company_name"
	fieldJobTitle       = "job_title"
	fieldJobDescription = "job_description"
)

// formOverhead allows for the text fields and multipart framing around the file
const formOverhead = 1 << 20

// multipartMemory is kept in memory before spilling parts to disk
const multipartMemory = 8 << 20

// analysisResponse is returned when a run completes
type analysisResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// listResponse wraps the stored analyses
type listResponse struct {
	Analyses []types.AnalysisRecord `json:"analyses"`
	Count    int                    `json:"count"`
}

// controllerFor builds a Controller bound to the request's authenticated subject
func (s *Server) controllerFor(r *http.Request) *pipeline.Controller {
	subject, _ := middleware.GetSubject(r)
	return pipeline.NewController(s.runner, pipeline.Session{Subject: subject},
		pipeline.WithTracker(s.tracker),
		pipeline.WithMaxUploadBytes(s.maxUpload),
	)
}

// readSubmission parses the multipart upload into a submission
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (*types.AnalysisSubmission, error) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+formOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, types.NewError(types.KindInvalidSubmission, "upload exceeds the size limit", err)
		}
		return nil, types.NewError(types.KindInvalidSubmission, "expected a multipart form upload", err)
	}

	file, header, err := r.FormFile(fieldFile)
	if err != nil {
		return nil, types.NewError(types.KindInvalidSubmission, "the form has no resume file", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, types.NewError(types.KindInvalidSubmission, "failed to read the uploaded file", err)
	}

	return &types.AnalysisSubmission{
		CompanyName:    r.FormValue(fieldCompanyName),
		JobTitle:       r.FormValue(fieldJobTitle),
		JobDescription: r.FormValue(fieldJobDescription),
		Filename:       header.Filename,
		Document:       data,
	}, nil
}

// handleCreateAnalysis runs the pipeline and responds once it is terminal
func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	sub, err := s.readSubmission(w, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	run, err := s.controllerFor(r).Submit(r.Context(), sub)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	id, err := run.Wait()
	if err != nil {
		body := newErrorBody(err)
		body.ID = run.ID()
		s.jsonResponse(w, HTTPStatus(err), body)
		return
	}

	w.Header().Set("Location", "/analyses/"+id)
	s.jsonResponse(w, http.StatusCreated, analysisResponse{ID: id, Status: "complete"})
}

// handleCreateAnalysisStream runs the pipeline and streams every status over SSE.
// A client that disconnects stops the stream, not the run.
func (s *Server) handleCreateAnalysisStream(w http.ResponseWriter, r *http.Request) {
	sub, err := s.readSubmission(w, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	run, err := s.controllerFor(r).Submit(r.Context(), sub)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	w.Header().Set("X-Run-ID", run.ID())

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("stream closed by client", "run_id", run.ID())
			return
		case status, ok := <-run.Updates():
			if !ok {
				return
			}
			if err := s.writeStatus(sse, run.ID(), status); err != nil {
				s.logger.Warn("failed to write stream event", "run_id", run.ID(), "error", err)
				return
			}
		}
	}
}

func (s *Server) writeStatus(sse *SSEWriter, id string, status pipeline.StageStatus) error {
	switch status.Stage {
	case pipeline.StageComplete:
		return sse.WriteComplete(status.RecordID)
	case pipeline.StageFailed:
		return sse.WriteError(id, status.Message, status.Kind)
	default:
		return sse.WriteEvent("status", status)
	}
}

// handleRunStatus returns the latest status of a run
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, ok := s.tracker.Get(id)
	if !ok {
		s.errorResponse(w, types.NewError(types.KindNotFound, "no run with id "+id, nil))
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

// handleListAnalyses returns every stored analysis, newest first
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	list, err := s.records.List(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if list == nil {
		list = []types.AnalysisRecord{}
	}
	s.jsonResponse(w, http.StatusOK, listResponse{Analyses: list, Count: len(list)})
}

// handleGetAnalysis returns one stored analysis
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

// handleGetResume streams the uploaded PDF of an analysis
func (s *Server) handleGetResume(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(rec *types.AnalysisRecord) string { return rec.ResumePath }, types.PDFMimeType)
}

// handleGetPreview streams the rendered first page of an analysis
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, func(rec *types.AnalysisRecord) string { return rec.ImagePath }, "image/png")
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, pick func(*types.AnalysisRecord) string, contentType string) {
	rec, err := s.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	data, err := s.storage.Read(r.Context(), pick(rec))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write artifact", "id", rec.ID, "error", err)
	}
}
