// Package api exposes the operations console HTTP surface: instance
// management, workflow and execution proxying, analytics, retention
// policies and webhook ingestion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/workflowops/opsgate/internal/cache"
	"github.com/workflowops/opsgate/internal/config"
	"github.com/workflowops/opsgate/internal/ratelimit"
	"github.com/workflowops/opsgate/internal/storage"
	"github.com/workflowops/opsgate/internal/upstream"
	"github.com/workflowops/opsgate/internal/vault"
)

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the admin bearer token.
	APIKey string
	// Tokens are per-user bearer tokens.
	Tokens []config.APIToken

	CacheFreshness  time.Duration
	UpstreamTimeout time.Duration
	WebhookSecret   string
	SignatureHeader string
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	instances *storage.InstanceStore
	policies  *storage.PolicyStore
	events    *storage.WebhookEventStore
	audit     *storage.AuditStore
	cache     *cache.Cache
	vault     *vault.Vault
	governor  *ratelimit.Governor
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Stores bundles the persistence dependencies of the server.
type Stores struct {
	Instances *storage.InstanceStore
	Policies  *storage.PolicyStore
	Events    *storage.WebhookEventStore
	Audit     *storage.AuditStore
}

// New creates a new API server instance.
func New(cfg Config, stores Stores, c *cache.Cache, v *vault.Vault, governor *ratelimit.Governor, logger *slog.Logger) *Server {
	return &Server{
		config:    cfg,
		instances: stores.Instances,
		policies:  stores.Policies,
		events:    stores.Events,
		audit:     stores.Audit,
		cache:     c,
		vault:     v,
		governor:  governor,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Webhook ingestion authenticates by signature, not bearer token.
	r.Post("/webhooks/n8n", s.handleWebhookIngest)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.handleListInstances)
			r.Post("/", s.handleCreateInstance)
			r.Route("/{instanceID}", func(r chi.Router) {
				r.Get("/", s.handleGetInstance)
				r.Put("/", s.handleUpdateInstance)
				r.Delete("/", s.handleDeleteInstance)

				r.Route("/workflows", func(r chi.Router) {
					r.Get("/", s.handleListWorkflows)
					r.Post("/activate", s.handleBulkActivate)
					r.Route("/{workflowID}", func(r chi.Router) {
						r.Get("/", s.handleGetWorkflow)
						r.Put("/", s.handleUpdateWorkflow)
						r.Post("/activate", s.handleActivateWorkflow)
						r.Post("/deactivate", s.handleDeactivateWorkflow)
					})
				})

				r.Route("/executions", func(r chi.Router) {
					r.Get("/", s.handleListExecutions)
					r.Route("/{executionID}", func(r chi.Router) {
						r.Get("/", s.handleGetExecution)
						r.Post("/retry", s.handleRetryExecution)
						r.Delete("/", s.handleDeleteExecution)
					})
				})

				r.Route("/analytics", func(r chi.Router) {
					r.Get("/stats", s.handleStats)
					r.Get("/trends", s.handleTrends)
					r.Get("/cost", s.handleCost)
					r.Get("/anomalies", s.handleAnomalies)
				})
			})
		})

		r.Route("/retention-policies", func(r chi.Router) {
			r.Get("/", s.handleListPolicies)
			r.Post("/", s.handleCreatePolicy)
			r.Route("/{policyID}", func(r chi.Router) {
				r.Get("/", s.handleGetPolicy)
				r.Put("/", s.handleUpdatePolicy)
				r.Delete("/", s.handleDeletePolicy)
			})
		})

		r.Get("/audit-logs", s.handleListAuditLogs)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	instances, err := s.instances.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list instances for healthz", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Instances:     len(instances),
	}
	respondJSON(w, http.StatusOK, resp)
}

// clientFor decrypts the instance credentials and builds an upstream client.
func (s *Server) clientFor(inst *storage.Instance) (*upstream.Client, error) {
	apiKey, err := s.vault.Decrypt(inst.EncryptedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt instance credentials: %w", err)
	}
	return upstream.New(inst.URL, apiKey, s.config.UpstreamTimeout), nil
}

// loadInstance fetches the instance from the URL parameter, writing the
// error response itself when the instance cannot be served.
func (s *Server) loadInstance(w http.ResponseWriter, r *http.Request) (*storage.Instance, bool) {
	id := chi.URLParam(r, "instanceID")
	inst, err := s.instances.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "instance not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load instance", "instance", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return nil, false
	}
	return inst, true
}

// writeUpstreamError maps an upstream client failure onto our response.
// Upstream 4xx pass through, upstream 429 keeps its retry hints, anything
// else is a bad gateway.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		s.logger.Error("upstream request failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	if ue.IsRateLimited() {
		resp := ErrorResponse{Error: "upstream rate limit exceeded"}
		if ue.RateLimit != nil {
			resp.RetryAfterSeconds = ue.RateLimit.RetryAfterSeconds
			w.Header().Set("Retry-After", strconv.Itoa(ue.RateLimit.RetryAfterSeconds))
		}
		respondJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	if ue.Status >= 400 && ue.Status < 500 {
		s.writeError(w, ue.Status, fmt.Sprintf("upstream rejected request: status %d", ue.Status))
		return
	}
	s.logger.Error("upstream request failed", "status", ue.Status, "error", err)
	s.writeError(w, http.StatusBadGateway, "upstream unavailable")
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
