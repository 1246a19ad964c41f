package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowops/opsgate/internal/analytics"
	"github.com/workflowops/opsgate/internal/ratelimit"
)

// fakeN8N is a minimal n8n API double.
type fakeN8N struct {
	t              *testing.T
	executionCalls int
	executions     []map[string]any
	server         *httptest.Server
}

func newFakeN8N(t *testing.T) *fakeN8N {
	t.Helper()

	now := time.Now().UTC()
	f := &fakeN8N{
		t: t,
		executions: []map[string]any{
			{
				"id": "exec-1", "workflowId": "wf-1", "status": "success",
				"startedAt": now.Add(-2 * time.Minute).Format(time.RFC3339),
				"stoppedAt": now.Add(-1 * time.Minute).Format(time.RFC3339),
				"data":      map[string]any{"apiKey": "leaked-credential"},
			},
			{
				"id": "exec-2", "workflowId": "wf-1", "status": "error",
				"startedAt": now.Add(-10 * time.Minute).Format(time.RFC3339),
				"stoppedAt": now.Add(-9 * time.Minute).Format(time.RFC3339),
			},
		},
	}

	r := chi.NewRouter()
	r.Get("/api/v1/workflows", func(w http.ResponseWriter, req *http.Request) {
		f.requireAPIKey(req)
		writeData(w, []map[string]any{
			{"id": "wf-1", "name": "sync-orders", "active": true},
			{"id": "wf-2", "name": "send-alerts", "active": false},
		})
	})
	r.Post("/api/v1/workflows/{id}/activate", func(w http.ResponseWriter, req *http.Request) {
		f.requireAPIKey(req)
		id := chi.URLParam(req, "id")
		if id == "missing" {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "active": true})
	})
	r.Get("/api/v1/executions", func(w http.ResponseWriter, req *http.Request) {
		f.requireAPIKey(req)
		f.executionCalls++
		writeData(w, f.executions)
	})
	r.Get("/api/v1/executions/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.requireAPIKey(req)
		_ = json.NewEncoder(w).Encode(f.executions[0])
	})
	r.Post("/api/v1/executions/{id}/retry", func(w http.ResponseWriter, req *http.Request) {
		f.requireAPIKey(req)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": chi.URLParam(req, "id"), "status": "running"})
	})
	r.Delete("/api/v1/executions/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.requireAPIKey(req)
		w.WriteHeader(http.StatusNoContent)
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeN8N) requireAPIKey(req *http.Request) {
	if req.Header.Get("X-N8N-API-KEY") == "" {
		f.t.Error("missing X-N8N-API-KEY header on upstream request")
	}
}

func writeData(w http.ResponseWriter, items []map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": items})
}

func TestListWorkflowsProxy(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	fake := newFakeN8N(t)
	inst := ts.createInstance(t, "prod", fake.server.URL)

	rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/workflows", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	workflows := decodeJSON[[]map[string]any](t, rec)
	require.Len(t, workflows, 2)
	assert.Equal(t, "sync-orders", workflows[0]["name"])
}

func TestBulkActivateTally(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	fake := newFakeN8N(t)
	inst := ts.createInstance(t, "prod", fake.server.URL)

	rec := ts.request(t, http.MethodPost, "/instances/"+inst.ID+"/workflows/activate", BulkActivateRequest{
		IDs: []string{"wf-1", "missing", "wf-2"},
	}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeJSON[BulkActivateResponse](t, rec)
	assert.Equal(t, []string{"wf-1", "wf-2"}, resp.Activated)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "missing", resp.Failed[0].ID)
	assert.NotEmpty(t, resp.Failed[0].Error)
}

func TestExecutionsReadThrough(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	fake := newFakeN8N(t)
	inst := ts.createInstance(t, "prod", fake.server.URL)

	path := "/instances/" + inst.ID + "/executions"

	rec := ts.request(t, http.MethodGet, path, nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeJSON[ExecutionListResponse](t, rec)
	assert.Equal(t, sourceUpstream, first.Source)
	assert.Equal(t, 2, first.Count)
	assert.Equal(t, 1, fake.executionCalls)

	// Sensitive fields are redacted before caching and in responses.
	data, ok := first.Data[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", data["apiKey"])
	assert.NotContains(t, rec.Body.String(), "leaked-credential")

	// Second read inside the freshness window is served from cache.
	rec = ts.request(t, http.MethodGet, path, nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeJSON[ExecutionListResponse](t, rec)
	assert.Equal(t, sourceCache, second.Source)
	assert.Equal(t, 1, fake.executionCalls)

	// refresh=true bypasses the cache.
	rec = ts.request(t, http.MethodGet, path+"?refresh=true", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	third := decodeJSON[ExecutionListResponse](t, rec)
	assert.Equal(t, sourceUpstream, third.Source)
	assert.Equal(t, 2, fake.executionCalls)
}

func TestExecutionsFilters(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	fake := newFakeN8N(t)
	inst := ts.createInstance(t, "prod", fake.server.URL)

	rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/executions?status=error", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ExecutionListResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "exec-2", resp.Data[0]["id"])

	rec = ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/executions?limit=1", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeJSON[ExecutionListResponse](t, rec).Count)

	rec = ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/executions?limit=zero", nil, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExecutionRedacted(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	fake := newFakeN8N(t)
	inst := ts.createInstance(t, "prod", fake.server.URL)

	rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/executions/exec-1", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "leaked-credential")
	assert.Contains(t, rec.Body.String(), "[REDACTED]")
}

func TestRetryAndDeleteExecution(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	fake := newFakeN8N(t)
	inst := ts.createInstance(t, "prod", fake.server.URL)

	rec := ts.request(t, http.MethodPost, "/instances/"+inst.ID+"/executions/exec-2/retry", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")

	rec = ts.request(t, http.MethodDelete, "/instances/"+inst.ID+"/executions/exec-2", nil, testAPIKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUpstreamErrorMapping(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})

	t.Run("server error becomes bad gateway", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		t.Cleanup(upstream.Close)
		inst := ts.createInstance(t, "broken", upstream.URL)

		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/workflows", nil, testAPIKey)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("not found passes through", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusNotFound)
		}))
		t.Cleanup(upstream.Close)
		inst := ts.createInstance(t, "empty", upstream.URL)

		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/workflows/wf-9", nil, testAPIKey)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("upstream 429 keeps retry hints", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "42")
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}))
		t.Cleanup(upstream.Close)
		inst := ts.createInstance(t, "busy", upstream.URL)

		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/workflows", nil, testAPIKey)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "42", rec.Header().Get("Retry-After"))
		assert.Equal(t, 42, decodeJSON[ErrorResponse](t, rec).RetryAfterSeconds)
	})

	t.Run("unreachable upstream becomes bad gateway", func(t *testing.T) {
		inst := ts.createInstance(t, "gone", "http://127.0.0.1:1")
		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/workflows", nil, testAPIKey)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestAnalyticsEndpoints(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	fake := newFakeN8N(t)
	inst := ts.createInstance(t, "prod", fake.server.URL)

	t.Run("stats", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/analytics/stats", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		stats := decodeJSON[analytics.Stats](t, rec)
		assert.Equal(t, 2, stats.Total)
		assert.Equal(t, 1, stats.Success)
		assert.Equal(t, 1, stats.Error)
		assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
	})

	t.Run("trends", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/analytics/trends?days=3", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)
		trends := decodeJSON[[]analytics.TrendPoint](t, rec)
		require.Len(t, trends, 3)
		assert.Equal(t, 2, trends[2].Total, "today's bucket holds both executions")
	})

	t.Run("trends validates days", func(t *testing.T) {
		for _, q := range []string{"days=0", "days=999", "days=abc"} {
			rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/analytics/trends?"+q, nil, testAPIKey)
			assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		}
	})

	t.Run("cost", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/analytics/cost?unitCost=0.002", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)
		cost := decodeJSON[analytics.CostEstimate](t, rec)
		assert.Equal(t, 2, cost.TotalExecutions)
		assert.InDelta(t, 0.004, cost.Cost, 0.0001)
	})

	t.Run("cost validates unitCost", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/analytics/cost?unitCost=-1", nil, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("anomalies", func(t *testing.T) {
		rec := ts.request(t, http.MethodGet, "/instances/"+inst.ID+"/analytics/anomalies", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)
		// Two executions on one day is not enough series to flag anything.
		assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	})
}
