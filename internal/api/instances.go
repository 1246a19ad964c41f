package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/workflowops/opsgate/internal/auth"
	"github.com/workflowops/opsgate/internal/storage"
)

func instanceResponse(inst *storage.Instance) InstanceResponse {
	return InstanceResponse{
		ID:              inst.ID,
		Name:            inst.Name,
		URL:             inst.URL,
		IsActive:        inst.IsActive,
		HealthStatus:    inst.HealthStatus,
		LastHealthCheck: inst.LastHealthCheck,
		CreatedAt:       inst.CreatedAt,
		UpdatedAt:       inst.UpdatedAt,
	}
}

// handleListInstances handles GET /instances.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.instances.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list instances", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	resp := make([]InstanceResponse, 0, len(instances))
	for _, inst := range instances {
		resp = append(resp, instanceResponse(inst))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleCreateInstance handles POST /instances.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	if req.Name == "" || req.URL == "" || req.APIKey == "" {
		s.writeError(w, http.StatusBadRequest, "name, url and apiKey are required")
		return
	}

	encrypted, err := s.vault.Encrypt(req.APIKey)
	if err != nil {
		s.logger.Error("failed to encrypt instance credentials", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}

	inst, err := s.instances.Create(r.Context(), req.Name, req.URL, encrypted)
	if err != nil {
		s.logger.Error("failed to create instance", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.recordAudit(r, "instance.create", "instance:"+inst.ID, map[string]any{"name": inst.Name})
	respondJSON(w, http.StatusCreated, instanceResponse(inst))
}

// handleGetInstance handles GET /instances/{instanceID}.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, instanceResponse(inst))
}

// handleUpdateInstance handles PUT /instances/{instanceID}.
func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}

	var req UpdateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.URL = strings.TrimSpace(req.URL)
	if req.Name == "" || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	encrypted := inst.EncryptedAPIKey
	if req.APIKey != "" {
		var err error
		encrypted, err = s.vault.Encrypt(req.APIKey)
		if err != nil {
			s.logger.Error("failed to encrypt instance credentials", "instance", inst.ID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to store credentials")
			return
		}
	}

	if err := s.instances.Update(r.Context(), inst.ID, req.Name, req.URL, encrypted, req.IsActive); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.logger.Error("failed to update instance", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	updated, err := s.instances.Get(r.Context(), inst.ID)
	if err != nil {
		s.logger.Error("failed to reload instance", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.recordAudit(r, "instance.update", "instance:"+inst.ID, map[string]any{
		"name":       req.Name,
		"isActive":   req.IsActive,
		"keyRotated": req.APIKey != "",
	})
	respondJSON(w, http.StatusOK, instanceResponse(updated))
}

// handleDeleteInstance handles DELETE /instances/{instanceID}. Cached
// execution data for the instance goes with it.
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.loadInstance(w, r)
	if !ok {
		return
	}

	if err := s.instances.Delete(r.Context(), inst.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		s.logger.Error("failed to delete instance", "instance", inst.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	if err := s.cache.PurgeInstance(r.Context(), inst.ID); err != nil {
		s.logger.Error("failed to purge instance cache", "instance", inst.ID, "error", err)
	}

	s.recordAudit(r, "instance.delete", "instance:"+inst.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// recordAudit appends an audit entry for a mutating operation. Audit
// failures are logged, never surfaced to the caller.
func (s *Server) recordAudit(r *http.Request, action, resource string, metadata map[string]any) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return
	}
	if err := s.audit.Insert(r.Context(), principal.UserID, action, resource, metadata); err != nil {
		s.logger.Error("failed to record audit entry", "action", action, "resource", resource, "error", err)
	}
}
