package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScopeAll is the workflow-scope sentinel for "executions across all
// workflows of the instance".
const ScopeAll = "all"

// CacheEntry is one cached execution list for an (instance, workflow scope)
// pair. Exactly one live entry exists per pair; writes replace, never append.
type CacheEntry struct {
	ID            string
	InstanceID    string
	WorkflowScope string
	Executions    []map[string]any
	CachedAt      time.Time
}

// CacheStore persists cache entries. The Retention Enforcer holds
// delete-only rights over this table; only Upsert writes it.
type CacheStore struct {
	db *sql.DB
}

func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

// Upsert stores executions for (instanceID, scope), replacing any prior
// entry and its cachedAt.
func (s *CacheStore) Upsert(ctx context.Context, instanceID, scope string, executions []map[string]any, cachedAt time.Time) error {
	if instanceID == "" {
		return fmt.Errorf("instance id is empty")
	}
	if scope == "" {
		scope = ScopeAll
	}

	payload, err := json.Marshal(executions)
	if err != nil {
		return fmt.Errorf("marshal executions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO execution_cache(id, instance_id, workflow_scope, executions, cached_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(instance_id, workflow_scope) DO UPDATE SET
  executions = excluded.executions,
  cached_at = excluded.cached_at;
`, uuid.NewString(), instanceID, scope, string(payload), cachedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Get returns the entry for (instanceID, scope), or nil when absent.
// Freshness is the caller's concern; expired entries are still returned.
func (s *CacheStore) Get(ctx context.Context, instanceID, scope string) (*CacheEntry, error) {
	if scope == "" {
		scope = ScopeAll
	}

	var (
		entry      CacheEntry
		rawExecs   string
		cachedAtMs int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, instance_id, workflow_scope, executions, cached_at
FROM execution_cache
WHERE instance_id = ? AND workflow_scope = ?;
`, instanceID, scope).Scan(&entry.ID, &entry.InstanceID, &entry.WorkflowScope, &rawExecs, &cachedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	if err := json.Unmarshal([]byte(rawExecs), &entry.Executions); err != nil {
		return nil, fmt.Errorf("decode cached executions: %w", err)
	}
	entry.CachedAt = time.UnixMilli(cachedAtMs).UTC()
	return &entry, nil
}

// DeleteOlderThan removes entries with cachedAt strictly before cutoff,
// optionally filtered by instance and workflow scope. Empty instanceID
// matches every instance; empty workflowID matches every scope. Returns the
// number of entries deleted.
func (s *CacheStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, instanceID, workflowID string) (int, error) {
	query := "DELETE FROM execution_cache WHERE cached_at < ?"
	args := []any{cutoff.UnixMilli()}
	if instanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, instanceID)
	}
	if workflowID != "" {
		query += " AND workflow_scope = ?"
		args = append(args, workflowID)
	}

	res, err := s.db.ExecContext(ctx, query+";", args...)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteByInstance drops every cache entry for an instance. Used when the
// instance itself is deleted.
func (s *CacheStore) DeleteByInstance(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM execution_cache WHERE instance_id = ?;", instanceID)
	if err != nil {
		return fmt.Errorf("delete cache entries for instance: %w", err)
	}
	return nil
}
