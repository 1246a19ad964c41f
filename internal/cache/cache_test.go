package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowops/opsgate/internal/redact"
	"github.com/workflowops/opsgate/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	c := New(storage.NewCacheStore(db))
	c.now = clock.Now
	return c, clock
}

func TestSetThenGetFresh(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	execs := []map[string]any{{"id": "e1", "status": "success"}}
	require.NoError(t, c.Set(ctx, "inst1", "all", execs))

	got, hit, err := c.Get(ctx, "inst1", "all", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0]["id"])
}

func TestExpiredEntryIsMissButSurvives(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	require.NoError(t, c.Set(ctx, "inst1", "wf1", []map[string]any{{"id": "e1"}}))

	clock.Advance(6 * time.Minute)
	_, hit, err := c.Get(ctx, "inst1", "wf1", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, hit, "expired entry should behave as a miss")

	// A wider window still finds the same entry: expiry did not delete it.
	got, hit, err := c.Get(ctx, "inst1", "wf1", time.Hour)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "e1", got[0]["id"])

	// A subsequent Set replaces the stale entry and is retrievable again.
	require.NoError(t, c.Set(ctx, "inst1", "wf1", []map[string]any{{"id": "e2"}}))
	got, hit, err = c.Get(ctx, "inst1", "wf1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "e2", got[0]["id"])
}

func TestMissOnAbsentKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	_, hit, err := c.Get(ctx, "inst-none", "all", time.Minute)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSetRedactsBeforeStore(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	execs := []map[string]any{{
		"id":     "e1",
		"status": "success",
		"data": map[string]any{
			"credentials": []any{
				map[string]any{"apiKey": "live-key", "name": "svc"},
			},
			"authorization": "Bearer xyz",
		},
	}}
	require.NoError(t, c.Set(ctx, "inst1", "all", execs))

	got, hit, err := c.Get(ctx, "inst1", "all", time.Minute)
	require.NoError(t, err)
	require.True(t, hit)

	data := got[0]["data"].(map[string]any)
	assert.Equal(t, redact.Marker, data["authorization"])
	creds := data["credentials"].([]any)
	cred := creds[0].(map[string]any)
	assert.Equal(t, redact.Marker, cred["apiKey"])
	assert.Equal(t, "svc", cred["name"])
}
