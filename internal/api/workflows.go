package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListWorkflows handles GET /instances/{instanceID}/workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
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

	workflows, err := client.ListWorkflows(r.Context())
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflows)
}

// handleGetWorkflow handles GET /instances/{instanceID}/workflows/{workflowID}.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
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

	wf, err := client.GetWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

// handleUpdateWorkflow handles PUT /instances/{instanceID}/workflows/{workflowID}.
// The body is passed through to the upstream API unchanged.
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	client, err := s.clientFor(inst)
	if err != nil {
		s.logger.Error("failed to build upstream client", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "instance credentials unavailable")
		return
	}

	workflowID := chi.URLParam(r, "workflowID")
	wf, err := client.UpdateWorkflow(r.Context(), workflowID, body)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	s.recordAudit(r, "workflow.update", "instance:"+inst.ID+"/workflow:"+workflowID, nil)
	respondJSON(w, http.StatusOK, wf)
}

// handleActivateWorkflow handles POST .../workflows/{workflowID}/activate.
func (s *Server) handleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.toggleWorkflow(w, r, true)
}

// handleDeactivateWorkflow handles POST .../workflows/{workflowID}/deactivate.
func (s *Server) handleDeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	s.toggleWorkflow(w, r, false)
}

func (s *Server) toggleWorkflow(w http.ResponseWriter, r *http.Request, activate bool) {
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

	workflowID := chi.URLParam(r, "workflowID")
	action := "workflow.activate"
	toggle := client.ActivateWorkflow
	if !activate {
		action = "workflow.deactivate"
		toggle = client.DeactivateWorkflow
	}

	wf, err := toggle(r.Context(), workflowID)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	s.recordAudit(r, action, "instance:"+inst.ID+"/workflow:"+workflowID, nil)
	respondJSON(w, http.StatusOK, wf)
}

// handleBulkActivate handles POST /instances/{instanceID}/workflows/activate.
// Each workflow is attempted independently and the outcome is tallied;
// a failed activation never aborts the rest of the batch.
func (s *Server) handleBulkActivate(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}

	var req BulkActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	client, err := s.clientFor(inst)
	if err != nil {
		s.logger.Error("failed to build upstream client", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "instance credentials unavailable")
		return
	}

	resp := BulkActivateResponse{
		Activated: make([]string, 0, len(req.IDs)),
		Failed:    make([]BulkActivateFailure, 0),
	}
	for _, id := range req.IDs {
		if _, err := client.ActivateWorkflow(r.Context(), id); err != nil {
			s.logger.Warn("bulk activation item failed", "instance", inst.ID, "workflow", id, "error", err)
			resp.Failed = append(resp.Failed, BulkActivateFailure{ID: id, Error: err.Error()})
			continue
		}
		resp.Activated = append(resp.Activated, id)
	}

	s.recordAudit(r, "workflow.bulk_activate", "instance:"+inst.ID, map[string]any{
		"requested": len(req.IDs),
		"activated": len(resp.Activated),
		"failed":    len(resp.Failed),
	})
	respondJSON(w, http.StatusOK, resp)
}
