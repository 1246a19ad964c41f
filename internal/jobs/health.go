package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/workflowops/opsgate/internal/storage"
	"github.com/workflowops/opsgate/internal/upstream"
	"github.com/workflowops/opsgate/internal/vault"
)

// executionLister is the slice of the upstream client the health probe
// needs.
type executionLister interface {
	ListExecutions(ctx context.Context, opts upstream.ListExecutionsOptions) ([]upstream.Execution, error)
}

// HealthCheck probes every active instance by listing a single
// execution through its API and records the result. A failure on one
// instance never blocks the probe of the next.
type HealthCheck struct {
	instances *storage.InstanceStore
	vault     *vault.Vault
	logger    *slog.Logger
	now       func() time.Time
	newClient func(instanceURL, apiKey string) executionLister
}

// NewHealthCheck creates the health probe job.
func NewHealthCheck(instances *storage.InstanceStore, v *vault.Vault, timeout time.Duration, logger *slog.Logger) *HealthCheck {
	return &HealthCheck{
		instances: instances,
		vault:     v,
		logger:    logger.With("job", "health"),
		now:       time.Now,
		newClient: func(instanceURL, apiKey string) executionLister {
			return upstream.New(instanceURL, apiKey, timeout)
		},
	}
}

func (h *HealthCheck) Name() string { return "health" }

// Run probes all active instances sequentially.
func (h *HealthCheck) Run(ctx context.Context) error {
	instances, err := h.instances.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		status := h.probe(ctx, inst)
		if err := h.instances.UpdateHealth(ctx, inst.ID, status, h.now()); err != nil {
			h.logger.Error("Failed to record health status", "instance", inst.ID, "error", err)
			continue
		}
		h.logger.Debug("Instance health recorded", "instance", inst.ID, "status", status)
	}
	return nil
}

func (h *HealthCheck) probe(ctx context.Context, inst *storage.Instance) string {
	apiKey, err := h.vault.Decrypt(inst.EncryptedAPIKey)
	if err != nil {
		h.logger.Error("Failed to decrypt instance credentials", "instance", inst.ID, "error", err)
		return storage.HealthUnhealthy
	}

	client := h.newClient(inst.URL, apiKey)
	if _, err := client.ListExecutions(ctx, upstream.ListExecutionsOptions{Limit: 1}); err != nil {
		h.logger.Warn("Instance health probe failed", "instance", inst.ID, "url", inst.URL, "error", err)
		return storage.HealthUnhealthy
	}
	return storage.HealthHealthy
}
