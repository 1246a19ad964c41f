package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/workflowops/opsgate/internal/ratelimit"
	"github.com/workflowops/opsgate/internal/redact"
	"github.com/workflowops/opsgate/internal/webhook"
)

const maxWebhookBodyBytes = 1 << 20

// handleWebhookIngest handles POST /webhooks/n8n. The endpoint is gated by
// the global rate window and authenticated by HMAC signature rather than a
// bearer token. Payloads are redacted before they are persisted.
func (s *Server) handleWebhookIngest(w http.ResponseWriter, r *http.Request) {
	if err := s.governor.EnforceGlobal("webhook"); err != nil {
		var limitErr *ratelimit.LimitExceededError
		if errors.As(err, &limitErr) {
			w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
			respondJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:             "rate limit exceeded",
				RetryAfterSeconds: limitErr.RetryAfterSeconds,
			})
			return
		}
		s.logger.Error("webhook rate limit check failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "rate limit check failed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	signature := webhook.ExtractSignature(r.Header.Get(s.config.SignatureHeader))
	if !webhook.VerifySignature(s.config.WebhookSecret, body, signature) {
		s.logger.Warn("webhook signature verification failed", "remote", r.RemoteAddr)
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	id, err := s.events.Insert(r.Context(), "n8n", redact.Map(payload))
	if err != nil {
		s.logger.Error("failed to store webhook event", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	s.logger.Info("webhook event accepted", "event_id", id)
	respondJSON(w, http.StatusAccepted, WebhookAcceptedResponse{ID: id})
}
