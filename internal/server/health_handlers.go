package server

import (
	"context"
	"net/http"
	"time"
)

// healthResponse reports liveness plus a per-dependency reachability summary
// (spec §6 "/health").
type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks"`
}

// handleHealth reports process liveness and database reachability (spec §6
// "/health GET"). The LLM/search/embedding providers are third-party
// collaborators reached only through the pipeline and dialogue components,
// not pinged directly here, matching how the teacher's own health check
// only probes what it owns a connection to.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := http.StatusOK
	overall := "ok"

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil {
		checks["database"] = "unconfigured"
	} else if err := s.db.PingContext(ctx); err != nil {
		checks["database"] = "error"
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	} else {
		checks["database"] = "ok"
	}

	writeJSON(w, status, healthResponse{
		Status: overall,
		Uptime: time.Since(s.startedAt).String(),
		Checks: checks,
	})
}
