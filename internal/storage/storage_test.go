package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "opsgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInstanceCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewInstanceStore(openTestDB(t))

	inst, err := store.Create(ctx, "prod", "https://n8n.example.com", "iv:tag:ct")
	require.NoError(t, err)
	require.NotEmpty(t, inst.ID)
	assert.True(t, inst.IsActive)
	assert.Equal(t, HealthUnknown, inst.HealthStatus)

	got, err := store.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Name)
	assert.Equal(t, "iv:tag:ct", got.EncryptedAPIKey)
	assert.Nil(t, got.LastHealthCheck)

	require.NoError(t, store.Update(ctx, inst.ID, "prod-2", "https://n8n2.example.com", "iv:tag:ct2", false))
	got, err = store.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "prod-2", got.Name)
	assert.False(t, got.IsActive)

	checkedAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateHealth(ctx, inst.ID, HealthHealthy, checkedAt))
	got, err = store.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, got.HealthStatus)
	require.NotNil(t, got.LastHealthCheck)
	assert.True(t, got.LastHealthCheck.Equal(checkedAt))

	require.NoError(t, store.Delete(ctx, inst.ID))
	_, err = store.Get(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, inst.ID), ErrNotFound)
}

func TestInstanceListActive(t *testing.T) {
	ctx := context.Background()
	store := NewInstanceStore(openTestDB(t))

	a, err := store.Create(ctx, "a", "https://a", "k")
	require.NoError(t, err)
	b, err := store.Create(ctx, "b", "https://b", "k")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, b.ID, "b", "https://b", "k", false))

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}

func TestCacheUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(openTestDB(t))

	t0 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	execs1 := []map[string]any{{"id": "e1", "status": "success"}}
	require.NoError(t, store.Upsert(ctx, "inst1", "wf1", execs1, t0))

	entry, err := store.Get(ctx, "inst1", "wf1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "e1", entry.Executions[0]["id"])
	assert.True(t, entry.CachedAt.Equal(t0))

	// Second write fully replaces the entry.
	t1 := t0.Add(time.Minute)
	execs2 := []map[string]any{{"id": "e2", "status": "error"}, {"id": "e3", "status": "success"}}
	require.NoError(t, store.Upsert(ctx, "inst1", "wf1", execs2, t1))

	entry, err = store.Get(ctx, "inst1", "wf1")
	require.NoError(t, err)
	require.Len(t, entry.Executions, 2)
	assert.Equal(t, "e2", entry.Executions[0]["id"])
	assert.True(t, entry.CachedAt.Equal(t1))
}

func TestCacheScopesAreDistinct(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(openTestDB(t))
	now := time.Now()

	require.NoError(t, store.Upsert(ctx, "inst1", ScopeAll, []map[string]any{{"id": "all"}}, now))
	require.NoError(t, store.Upsert(ctx, "inst1", "wf1", []map[string]any{{"id": "scoped"}}, now))

	all, err := store.Get(ctx, "inst1", ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, "all", all.Executions[0]["id"])

	scoped, err := store.Get(ctx, "inst1", "wf1")
	require.NoError(t, err)
	assert.Equal(t, "scoped", scoped.Executions[0]["id"])

	missing, err := store.Get(ctx, "inst2", ScopeAll)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCacheDeleteOlderThanFilters(t *testing.T) {
	ctx := context.Background()
	store := NewCacheStore(openTestDB(t))

	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)
	fresh := now.AddDate(0, 0, -5)

	require.NoError(t, store.Upsert(ctx, "inst1", "wf1", nil, old))
	require.NoError(t, store.Upsert(ctx, "inst1", "wf2", nil, fresh))
	require.NoError(t, store.Upsert(ctx, "inst2", "wf1", nil, old))

	// Instance-scoped delete leaves other instances alone.
	n, err := store.DeleteOlderThan(ctx, now.AddDate(0, 0, -30), "inst1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, err := store.Get(ctx, "inst2", "wf1")
	require.NoError(t, err)
	assert.NotNil(t, entry)

	// Workflow-scoped delete.
	n, err = store.DeleteOlderThan(ctx, now, "inst2", "wf1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Instance-agnostic delete catches what remains.
	n, err = store.DeleteOlderThan(ctx, now.Add(time.Hour), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPolicyCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewPolicyStore(openTestDB(t))

	p1, err := store.Create(ctx, "inst1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, p1.WorkflowID)

	p2, err := store.Create(ctx, "inst1", "wf1", 90)
	require.NoError(t, err)
	assert.Equal(t, "wf1", p2.WorkflowID)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, store.Update(ctx, p1.ID, 20))
	got, err := store.Get(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.RetentionDays)

	require.NoError(t, store.Delete(ctx, p2.ID))
	_, err = store.Get(ctx, p2.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPolicyRetentionDaysBounds(t *testing.T) {
	ctx := context.Background()
	store := NewPolicyStore(openTestDB(t))

	_, err := store.Create(ctx, "inst1", "", 0)
	require.Error(t, err)
	_, err = store.Create(ctx, "inst1", "", 366)
	require.Error(t, err)

	p, err := store.Create(ctx, "inst1", "", 365)
	require.NoError(t, err)
	assert.Error(t, store.Update(ctx, p.ID, 0))
}

func TestWebhookEventInsert(t *testing.T) {
	ctx := context.Background()
	store := NewWebhookEventStore(openTestDB(t))

	id, err := store.Insert(ctx, "n8n", map[string]any{"event": "workflow.completed"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = store.Insert(ctx, "", nil)
	require.Error(t, err)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	store := NewAuditStore(openTestDB(t))

	require.NoError(t, store.Insert(ctx, "u1", "instance.create", "instance:abc", map[string]any{"name": "prod"}))
	require.NoError(t, store.Insert(ctx, "u1", "instance.delete", "instance:abc", nil))

	entries, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "instance.delete", entries[0].Action)
	assert.Equal(t, "prod", entries[1].Metadata["name"])

	assert.Error(t, store.Insert(ctx, "", "a", "r", nil))
}
