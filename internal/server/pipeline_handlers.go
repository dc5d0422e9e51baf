package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"newsroom/internal/core"
)

// pipelineRequestBody is the wire shape of a full `/pipeline/process` call
// (spec §4.8, §6). Omitted bool fields default to the spec's full-run
// defaults via core.DefaultPipelineRequest.
type pipelineRequestBody struct {
	Query        string `json:"query"`
	UserID       string `json:"userId"`
	NumResults   *int   `json:"numResults,omitempty"`
	MaxCards     *int   `json:"maxCards,omitempty"`
	Store        *bool  `json:"store,omitempty"`
	Index        *bool  `json:"index,omitempty"`
	Analyze      *bool  `json:"analyze,omitempty"`
	Card         *bool  `json:"card,omitempty"`
	Sentiment    *bool  `json:"sentiment,omitempty"`
	MemoryUpdate *bool  `json:"memoryUpdate,omitempty"`
}

func (b pipelineRequestBody) apply(req core.PipelineRequest) core.PipelineRequest {
	if b.NumResults != nil {
		req.NumResults = *b.NumResults
	}
	if b.MaxCards != nil {
		req.MaxCards = *b.MaxCards
	}
	if b.Store != nil {
		req.Store = *b.Store
	}
	if b.Index != nil {
		req.Index = *b.Index
	}
	if b.Analyze != nil {
		req.Analyze = *b.Analyze
	}
	if b.Card != nil {
		req.Card = *b.Card
	}
	if b.Sentiment != nil {
		req.Sentiment = *b.Sentiment
	}
	if b.MemoryUpdate != nil {
		req.MemoryUpdate = *b.MemoryUpdate
	}
	return req
}

// handlePipelineProcess runs the full pipeline (spec §6 "/pipeline/process").
func (s *Server) handlePipelineProcess(w http.ResponseWriter, r *http.Request) {
	var body pipelineRequestBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.Query == "" || body.UserID == "" {
		respondError(w, core.NewError(core.ErrConstraintViolation, "query and userId are required", nil))
		return
	}

	req := body.apply(core.DefaultPipelineRequest(body.Query, body.UserID))
	s.runPipeline(w, r, req)
}

// handlePipelineQuick runs the search+card-only shape (spec §6
// "/pipeline/quick").
func (s *Server) handlePipelineQuick(w http.ResponseWriter, r *http.Request) {
	var body pipelineRequestBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.Query == "" || body.UserID == "" {
		respondError(w, core.NewError(core.ErrConstraintViolation, "query and userId are required", nil))
		return
	}

	req := body.apply(core.QuickPipelineRequest(body.Query, body.UserID))
	s.runPipeline(w, r, req)
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request, req core.PipelineRequest) {
	run, err := s.pipeline.Run(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	if s.runs != nil {
		_ = s.runs.Save(r.Context(), run)
	}
	if run.Status == core.RunFailed {
		writeJSON(w, http.StatusOK, envelope{Success: false, Error: &errorPayload{
			Kind:    mostSpecificErrorKind(run),
			Message: "pipeline run failed",
		}})
		return
	}
	respondData(w, http.StatusOK, run)
}

func mostSpecificErrorKind(run *core.PipelineRun) string {
	for i := len(run.Stages) - 1; i >= 0; i-- {
		if run.Stages[i].ErrorKind != "" {
			return run.Stages[i].ErrorKind
		}
	}
	return string(core.ErrInternal)
}

// handlePipelineStatus returns a retained run by id (spec §6
// "/pipeline/status/{runId}").
func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, run)
}
