package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/workflowops/opsgate/internal/cache"
	"github.com/workflowops/opsgate/internal/storage"
	"github.com/workflowops/opsgate/internal/upstream"
	"github.com/workflowops/opsgate/internal/vault"
)

const (
	warmupWorkflowLimit  = 5
	warmupExecutionLimit = 50
)

// warmupClient is the slice of the upstream client the warmup job needs.
type warmupClient interface {
	ListWorkflows(ctx context.Context) ([]upstream.Workflow, error)
	ListExecutions(ctx context.Context, opts upstream.ListExecutionsOptions) ([]upstream.Execution, error)
}

// Warmup pre-populates the execution cache for each active instance by
// fetching recent executions for the first few workflows, so the first
// dashboard load after a restart hits warm data.
type Warmup struct {
	instances *storage.InstanceStore
	vault     *vault.Vault
	cache     *cache.Cache
	logger    *slog.Logger
	newClient func(instanceURL, apiKey string) warmupClient
}

// NewWarmup creates the cache warmup job.
func NewWarmup(instances *storage.InstanceStore, v *vault.Vault, c *cache.Cache, timeout time.Duration, logger *slog.Logger) *Warmup {
	return &Warmup{
		instances: instances,
		vault:     v,
		cache:     c,
		logger:    logger.With("job", "warmup"),
		newClient: func(instanceURL, apiKey string) warmupClient {
			return upstream.New(instanceURL, apiKey, timeout)
		},
	}
}

func (w *Warmup) Name() string { return "warmup" }

// Run warms the cache for every active instance. Failures are logged
// per instance and per workflow; a cold cache is never fatal.
func (w *Warmup) Run(ctx context.Context) error {
	instances, err := w.instances.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		w.warmInstance(ctx, inst)
	}
	return nil
}

func (w *Warmup) warmInstance(ctx context.Context, inst *storage.Instance) {
	apiKey, err := w.vault.Decrypt(inst.EncryptedAPIKey)
	if err != nil {
		w.logger.Error("Failed to decrypt instance credentials", "instance", inst.ID, "error", err)
		return
	}
	client := w.newClient(inst.URL, apiKey)

	workflows, err := client.ListWorkflows(ctx)
	if err != nil {
		w.logger.Warn("Warmup workflow listing failed", "instance", inst.ID, "error", err)
		return
	}
	if len(workflows) > warmupWorkflowLimit {
		workflows = workflows[:warmupWorkflowLimit]
	}

	for _, wf := range workflows {
		workflowID := wf.ID()
		if workflowID == "" {
			continue
		}
		executions, err := client.ListExecutions(ctx, upstream.ListExecutionsOptions{
			WorkflowID: workflowID,
			Limit:      warmupExecutionLimit,
		})
		if err != nil {
			w.logger.Warn("Warmup execution fetch failed", "instance", inst.ID, "workflow", workflowID, "error", err)
			continue
		}
		payloads := make([]map[string]any, len(executions))
		for i, e := range executions {
			payloads[i] = map[string]any(e)
		}
		if err := w.cache.Set(ctx, inst.ID, workflowID, payloads); err != nil {
			w.logger.Error("Warmup cache write failed", "instance", inst.ID, "workflow", workflowID, "error", err)
			continue
		}
		w.logger.Debug("Warmed execution cache", "instance", inst.ID, "workflow", workflowID, "executions", len(executions))
	}
}
