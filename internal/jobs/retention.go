package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workflowops/opsgate/internal/storage"
)

// Retention prunes stale execution cache entries. When no retention
// policies exist a single instance-agnostic sweep with the configured
// default age runs; otherwise each policy is applied independently,
// including policies whose targets overlap.
type Retention struct {
	policies    *storage.PolicyStore
	cache       *storage.CacheStore
	defaultDays int
	logger      *slog.Logger
	now         func() time.Time
}

// NewRetention creates the retention job.
func NewRetention(policies *storage.PolicyStore, cache *storage.CacheStore, defaultDays int, logger *slog.Logger) *Retention {
	return &Retention{
		policies:    policies,
		cache:       cache,
		defaultDays: defaultDays,
		logger:      logger.With("job", "retention"),
		now:         time.Now,
	}
}

func (r *Retention) Name() string { return "retention" }

// Run executes one sweep and returns the total number of cache entries
// removed. Per-policy failures do not abort the sweep; they are
// collected and returned after every policy has been attempted.
func (r *Retention) Run(ctx context.Context) error {
	deleted, err := r.Sweep(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("Retention sweep completed", "deleted", deleted)
	return nil
}

// Sweep performs the deletion pass and reports how many rows it removed.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	policies, err := r.policies.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list retention policies: %w", err)
	}

	now := r.now()
	if len(policies) == 0 {
		cutoff := now.Add(-time.Duration(r.defaultDays) * 24 * time.Hour)
		deleted, err := r.cache.DeleteOlderThan(ctx, cutoff, "", "")
		if err != nil {
			return 0, fmt.Errorf("default retention sweep: %w", err)
		}
		return deleted, nil
	}

	var total int
	var errs []error
	for _, p := range policies {
		cutoff := now.Add(-time.Duration(p.RetentionDays) * 24 * time.Hour)
		deleted, err := r.cache.DeleteOlderThan(ctx, cutoff, p.InstanceID, p.WorkflowID)
		if err != nil {
			r.logger.Error("Policy sweep failed", "policy_id", p.ID, "instance_id", p.InstanceID, "error", err)
			errs = append(errs, fmt.Errorf("policy %s: %w", p.ID, err))
			continue
		}
		total += deleted
	}
	return total, errors.Join(errs...)
}
