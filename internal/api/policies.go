package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/workflowops/opsgate/internal/storage"
)

func policyResponse(p *storage.RetentionPolicy) PolicyResponse {
	return PolicyResponse{
		ID:            p.ID,
		InstanceID:    p.InstanceID,
		WorkflowID:    p.WorkflowID,
		RetentionDays: p.RetentionDays,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// handleListPolicies handles GET /retention-policies.
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.policies.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list retention policies", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	resp := make([]PolicyResponse, 0, len(policies))
	for _, p := range policies {
		resp = append(resp, policyResponse(p))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCreatePolicy handles POST /retention-policies.
func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.InstanceID = strings.TrimSpace(req.InstanceID)
	if req.InstanceID == "" {
		s.writeError(w, http.StatusBadRequest, "instanceId is required")
		return
	}

	// The policy must target a known instance.
	if _, err := s.instances.Get(r.Context(), req.InstanceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.logger.Error("failed to load instance for policy", "instance", req.InstanceID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	policy, err := s.policies.Create(r.Context(), req.InstanceID, req.WorkflowID, req.RetentionDays)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRetention) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to create retention policy", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.recordAudit(r, "policy.create", "policy:"+policy.ID, map[string]any{
		"instanceId":    policy.InstanceID,
		"retentionDays": policy.RetentionDays,
	})
	respondJSON(w, http.StatusCreated, policyResponse(policy))
}

// handleGetPolicy handles GET /retention-policies/{policyID}.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.policies.Get(r.Context(), chi.URLParam(r, "policyID"))
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "retention policy not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load retention policy", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	respondJSON(w, http.StatusOK, policyResponse(policy))
}

// handleUpdatePolicy handles PUT /retention-policies/{policyID}.
func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	policyID := chi.URLParam(r, "policyID")
	if err := s.policies.Update(r.Context(), policyID, req.RetentionDays); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "retention policy not found")
			return
		}
		if errors.Is(err, storage.ErrInvalidRetention) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to update retention policy", "policy", policyID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	policy, err := s.policies.Get(r.Context(), policyID)
	if err != nil {
		s.logger.Error("failed to reload retention policy", "policy", policyID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.recordAudit(r, "policy.update", "policy:"+policyID, map[string]any{
		"retentionDays": req.RetentionDays,
	})
	respondJSON(w, http.StatusOK, policyResponse(policy))
}

// handleDeletePolicy handles DELETE /retention-policies/{policyID}.
func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policyID")
	if err := s.policies.Delete(r.Context(), policyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "retention policy not found")
			return
		}
		s.logger.Error("failed to delete retention policy", "policy", policyID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.recordAudit(r, "policy.delete", "policy:"+policyID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListAuditLogs handles GET /audit-logs?limit=N.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := s.audit.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, AuditEntryResponse{
			ID:        e.ID,
			UserID:    e.UserID,
			Action:    e.Action,
			Resource:  e.Resource,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
