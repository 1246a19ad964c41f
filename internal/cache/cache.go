// Package cache is the time-bounded read-through cache for upstream
// execution lists. Staleness is evaluated at read time against the caller's
// freshness window; expired entries are left in place for the Retention
// Enforcer, whose age policy is a distinct and much longer-lived concept.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/workflowops/opsgate/internal/redact"
	"github.com/workflowops/opsgate/internal/storage"
)

// Cache wraps the cache store with freshness checks and mandatory
// pre-store redaction.
type Cache struct {
	store *storage.CacheStore

	// now is injectable for freshness-window tests.
	now func() time.Time
}

// New builds a Cache over the given store.
func New(store *storage.CacheStore) *Cache {
	return &Cache{
		store: store,
		now:   time.Now,
	}
}

// Get returns the cached executions for (instanceID, scope) if the entry is
// no older than maxAge. An expired or absent entry is a miss; expiry does
// not delete the entry.
func (c *Cache) Get(ctx context.Context, instanceID, scope string, maxAge time.Duration) ([]map[string]any, bool, error) {
	entry, err := c.store.Get(ctx, instanceID, scope)
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if entry == nil {
		return nil, false, nil
	}
	if c.now().Sub(entry.CachedAt) > maxAge {
		return nil, false, nil
	}
	return entry.Executions, true, nil
}

// Set redacts and stores executions for (instanceID, scope), replacing any
// prior entry. Sensitive fields never reach storage in clear.
func (c *Cache) Set(ctx context.Context, instanceID, scope string, executions []map[string]any) error {
	redacted := make([]map[string]any, len(executions))
	for i, e := range executions {
		redacted[i] = redact.Map(e)
	}
	if err := c.store.Upsert(ctx, instanceID, scope, redacted, c.now()); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// PurgeInstance drops every cached scope for an instance. Called when the
// instance itself is deleted.
func (c *Cache) PurgeInstance(ctx context.Context, instanceID string) error {
	if err := c.store.DeleteByInstance(ctx, instanceID); err != nil {
		return fmt.Errorf("cache purge: %w", err)
	}
	return nil
}
