package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowops/opsgate/internal/cache"
	"github.com/workflowops/opsgate/internal/config"
	"github.com/workflowops/opsgate/internal/log"
	"github.com/workflowops/opsgate/internal/ratelimit"
	"github.com/workflowops/opsgate/internal/storage"
	"github.com/workflowops/opsgate/internal/vault"
)

const (
	testAPIKey   = "admin-test-key"
	testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type testServer struct {
	srv     *Server
	handler http.Handler
	stores  Stores
}

type serverOption func(*Config)

func withWebhookSecret(secret string) serverOption {
	return func(c *Config) { c.WebhookSecret = secret }
}

func newTestServer(t *testing.T, limits ratelimit.Config, opts ...serverOption) *testServer {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	v, err := vault.New(testVaultKey)
	require.NoError(t, err)

	if limits.Window == 0 {
		limits = ratelimit.Config{Window: time.Minute, GlobalLimit: 1000, UserLimit: 1000}
	}
	governor := ratelimit.NewGovernor(ratelimit.NewMemory(), limits)
	t.Cleanup(governor.Close)

	cfg := Config{
		Listen: "127.0.0.1:0",
		APIKey: testAPIKey,
		Tokens: []config.APIToken{
			{Token: "alice-token", UserID: "u-alice"},
		},
		CacheFreshness:  5 * time.Minute,
		UpstreamTimeout: 5 * time.Second,
		SignatureHeader: "x-n8n-signature",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	stores := Stores{
		Instances: storage.NewInstanceStore(db),
		Policies:  storage.NewPolicyStore(db),
		Events:    storage.NewWebhookEventStore(db),
		Audit:     storage.NewAuditStore(db),
	}

	srv := New(cfg, stores, cache.New(storage.NewCacheStore(db)), v, governor, log.Get())
	return &testServer{srv: srv, handler: srv.setupRoutes(), stores: stores}
}

func (ts *testServer) request(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// createInstance registers an instance through the API and returns it.
func (ts *testServer) createInstance(t *testing.T, name, url string) InstanceResponse {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/instances", CreateInstanceRequest{
		Name:   name,
		URL:    url,
		APIKey: "n8n-secret-key",
	}, testAPIKey)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[InstanceResponse](t, rec)
}

func TestHealthzNoAuth(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	rec := ts.request(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[HealthzResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})

	rec := ts.request(t, http.MethodGet, "/instances", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodGet, "/instances", nil, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodGet, "/instances", nil, "alice-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitExceeded(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{
		Window:      time.Minute,
		GlobalLimit: 100,
		UserLimit:   2,
	})

	for i := 0; i < 2; i++ {
		rec := ts.request(t, http.MethodGet, "/instances", nil, "alice-token")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.request(t, http.MethodGet, "/instances", nil, "alice-token")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	resp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, "rate limit exceeded", resp.Error)

	// Another user is unaffected by alice's exhausted window.
	rec = ts.request(t, http.MethodGet, "/instances", nil, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInstanceLifecycle(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})

	created := ts.createInstance(t, "prod", "https://n8n.example.com")
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "prod", created.Name)
	assert.Equal(t, storage.HealthUnknown, created.HealthStatus)

	// Credential material never appears in responses.
	raw := ts.request(t, http.MethodGet, "/instances/"+created.ID, nil, testAPIKey)
	require.Equal(t, http.StatusOK, raw.Code)
	assert.NotContains(t, raw.Body.String(), "apiKey")
	assert.NotContains(t, raw.Body.String(), "n8n-secret-key")

	rec := ts.request(t, http.MethodPut, "/instances/"+created.ID, UpdateInstanceRequest{
		Name:     "prod-eu",
		URL:      "https://n8n-eu.example.com",
		IsActive: true,
	}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeJSON[InstanceResponse](t, rec)
	assert.Equal(t, "prod-eu", updated.Name)
	assert.True(t, updated.IsActive)

	rec = ts.request(t, http.MethodDelete, "/instances/"+created.ID, nil, testAPIKey)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, http.MethodGet, "/instances/"+created.ID, nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateInstanceValidation(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})

	rec := ts.request(t, http.MethodPost, "/instances", CreateInstanceRequest{
		Name: "incomplete",
	}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPolicyLifecycle(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	inst := ts.createInstance(t, "prod", "https://n8n.example.com")

	rec := ts.request(t, http.MethodPost, "/retention-policies", CreatePolicyRequest{
		InstanceID:    inst.ID,
		RetentionDays: 14,
	}, testAPIKey)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeJSON[PolicyResponse](t, rec)
	assert.Equal(t, 14, created.RetentionDays)

	rec = ts.request(t, http.MethodPut, "/retention-policies/"+created.ID, UpdatePolicyRequest{
		RetentionDays: 60,
	}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 60, decodeJSON[PolicyResponse](t, rec).RetentionDays)

	rec = ts.request(t, http.MethodGet, "/retention-policies", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[[]PolicyResponse](t, rec), 1)

	rec = ts.request(t, http.MethodDelete, "/retention-policies/"+created.ID, nil, testAPIKey)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, http.MethodGet, "/retention-policies/"+created.ID, nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicyValidation(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	inst := ts.createInstance(t, "prod", "https://n8n.example.com")

	t.Run("out of bounds days", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/retention-policies", CreatePolicyRequest{
			InstanceID:    inst.ID,
			RetentionDays: 9999,
		}, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown instance", func(t *testing.T) {
		rec := ts.request(t, http.MethodPost, "/retention-policies", CreatePolicyRequest{
			InstanceID:    "nope",
			RetentionDays: 14,
		}, testAPIKey)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	inst := ts.createInstance(t, "prod", "https://n8n.example.com")

	rec := ts.request(t, http.MethodDelete, "/instances/"+inst.ID, nil, "alice-token")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, http.MethodGet, "/audit-logs", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeJSON[[]AuditEntryResponse](t, rec)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "instance.delete", entries[0].Action)
	assert.Equal(t, "u-alice", entries[0].UserID)
	assert.Equal(t, "instance.create", entries[1].Action)
	assert.Equal(t, "admin", entries[1].UserID)
}

func webhookSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookIngest(t *testing.T) {
	secret := "whsec_test"
	ts := newTestServer(t, ratelimit.Config{}, withWebhookSecret(secret))

	body := []byte(`{"event":"workflow.failed","apiKey":"super-secret"}`)

	t.Run("valid signature accepted and redacted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader(body))
		req.Header.Set("x-n8n-signature", webhookSign(secret, body))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		resp := decodeJSON[WebhookAcceptedResponse](t, rec)
		assert.NotEmpty(t, resp.ID)
	})

	t.Run("key=value header format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader(body))
		req.Header.Set("x-n8n-signature", "t=123,v1="+webhookSign(secret, body))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader(body))
		req.Header.Set("x-n8n-signature", "deadbeef")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-object payload rejected", func(t *testing.T) {
		bad := []byte(`[1,2,3]`)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader(bad))
		req.Header.Set("x-n8n-signature", webhookSign(secret, bad))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWebhookOpenMode(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader([]byte(`{"event":"ping"}`)))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookRateLimited(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{
		Window:      time.Minute,
		GlobalLimit: 1,
		UserLimit:   100,
	})

	body := []byte(`{"event":"ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/n8n", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
