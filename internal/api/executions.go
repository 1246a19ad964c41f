package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/workflowops/opsgate/internal/redact"
	"github.com/workflowops/opsgate/internal/storage"
	"github.com/workflowops/opsgate/internal/upstream"
)

// upstreamFetchLimit bounds how many executions one cache fill pulls.
const upstreamFetchLimit = 250

const (
	sourceCache    = "cache"
	sourceUpstream = "upstream"
)

// loadExecutions is the read-through path shared by the execution list and
// the analytics endpoints. The cache key is (instance, workflow scope); a
// fresh entry short-circuits the upstream call entirely. Payloads are
// redacted before caching and before leaving the process.
func (s *Server) loadExecutions(r *http.Request, inst *storage.Instance, workflowID string, refresh bool) ([]map[string]any, string, error) {
	scope := workflowID
	if scope == "" {
		scope = storage.ScopeAll
	}

	if !refresh {
		cached, ok, err := s.cache.Get(r.Context(), inst.ID, scope, s.config.CacheFreshness)
		if err != nil {
			s.logger.Error("execution cache read failed", "instance", inst.ID, "scope", scope, "error", err)
		} else if ok {
			return cached, sourceCache, nil
		}
	}

	client, err := s.clientFor(inst)
	if err != nil {
		return nil, "", err
	}
	executions, err := client.ListExecutions(r.Context(), upstream.ListExecutionsOptions{
		WorkflowID: workflowID,
		Limit:      upstreamFetchLimit,
	})
	if err != nil {
		return nil, "", err
	}

	payloads := make([]map[string]any, len(executions))
	for i, e := range executions {
		payloads[i] = redact.Map(e)
	}

	if err := s.cache.Set(r.Context(), inst.ID, scope, payloads); err != nil {
		// A failed cache write degrades freshness, not correctness.
		s.logger.Error("execution cache write failed", "instance", inst.ID, "scope", scope, "error", err)
	}
	return payloads, sourceUpstream, nil
}

// handleListExecutions handles GET /instances/{instanceID}/executions.
// Query parameters: workflowId, status, limit, refresh.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	workflowID := q.Get("workflowId")
	status := q.Get("status")
	refresh := q.Get("refresh") == "true"

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	payloads, source, err := s.loadExecutions(r, inst, workflowID, refresh)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	if status != "" {
		filtered := make([]map[string]any, 0, len(payloads))
		for _, p := range payloads {
			if upstream.Execution(p).Status() == status {
				filtered = append(filtered, p)
			}
		}
		payloads = filtered
	}
	if limit > 0 && len(payloads) > limit {
		payloads = payloads[:limit]
	}

	respondJSON(w, http.StatusOK, ExecutionListResponse{
		Data:   payloads,
		Count:  len(payloads),
		Source: source,
	})
}

// handleGetExecution handles GET /instances/{instanceID}/executions/{executionID}.
// Single executions always come straight from upstream.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}
	client, err := s.clientFor(inst)
	if err != nil {
		s.logger.Error("failed to build upstream client", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "instance credentials unavailable")
		return
	}

	exec, err := client.GetExecution(r.Context(), chi.URLParam(r, "executionID"))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, redact.Map(exec))
}

// handleRetryExecution handles POST .../executions/{executionID}/retry.
func (s *Server) handleRetryExecution(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}
	client, err := s.clientFor(inst)
	if err != nil {
		s.logger.Error("failed to build upstream client", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "instance credentials unavailable")
		return
	}

	executionID := chi.URLParam(r, "executionID")
	exec, err := client.RetryExecution(r.Context(), executionID)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	s.recordAudit(r, "execution.retry", "instance:"+inst.ID+"/execution:"+executionID, nil)
	respondJSON(w, http.StatusOK, redact.Map(exec))
}

// handleDeleteExecution handles DELETE .../executions/{executionID}.
func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}
	client, err := s.clientFor(inst)
	if err != nil {
		s.logger.Error("failed to build upstream client", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "instance credentials unavailable")
		return
	}

	executionID := chi.URLParam(r, "executionID")
	if err := client.DeleteExecution(r.Context(), executionID); err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	s.recordAudit(r, "execution.delete", "instance:"+inst.ID+"/execution:"+executionID, nil)
	w.WriteHeader(http.StatusNoContent)
}
