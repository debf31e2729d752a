package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/galeshell/gale/internal/job"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		SessionID:     s.config.SessionID,
		Jobs:          len(s.jobs.Jobs()),
	})
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jobs.ScanForCompletion(false)
	respondJSON(w, http.StatusOK, StatusResponse{
		SessionID:     s.config.SessionID,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Jobs:          len(s.jobs.Jobs()),
		Builtins:      len(s.builtins.Entries()),
		Modules:       len(s.modules.Loaded()),
	})
}

// handleJobs handles GET /v1/jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.jobs.ScanForCompletion(false)
	respondJSON(w, http.StatusOK, JobsResponse{Jobs: s.jobs.Jobs()})
}

// handleJob handles GET /v1/jobs/{jobID}.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}

	s.jobs.ScanForCompletion(false)
	info, err := s.jobs.Info(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleJobOutput handles GET /v1/jobs/{jobID}/output.
func (s *Server) handleJobOutput(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobIDParam(w, r)
	if !ok {
		return
	}

	stdout, stderr, err := s.jobs.Output(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, JobOutputResponse{
		ID:     id,
		Stdout: string(stdout),
		Stderr: string(stderr),
	})
}

// handleBuiltins handles GET /v1/builtins.
func (s *Server) handleBuiltins(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, BuiltinsResponse{Builtins: s.builtins.Entries()})
}

// handleModules handles GET /v1/modules.
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ModulesResponse{Modules: s.modules.Loaded()})
}

func (s *Server) jobIDParam(w http.ResponseWriter, r *http.Request) (job.ID, bool) {
	raw := chi.URLParam(r, "jobID")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return job.ID(n), true
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
