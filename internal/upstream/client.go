// Package upstream is the typed request layer for the n8n REST API. It does
// no retries; backoff is the caller's policy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiPath      = "/api/v1"
	apiKeyHeader = "X-N8N-API-KEY"

	maxErrorBodyBytes = 64 * 1024
)

// Client talks to one workflow-automation instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a client for an instance URL. Trailing slashes are stripped and
// the API path segment is appended unless the URL already carries it. The
// timeout bounds every request.
func New(instanceURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: normalizeBaseURL(instanceURL),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func normalizeBaseURL(instanceURL string) string {
	normalized := strings.TrimRight(instanceURL, "/")
	if strings.HasSuffix(normalized, apiPath) {
		return normalized
	}
	return normalized + apiPath
}

// ListWorkflows fetches all workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var out []Workflow
	if err := c.requestList(ctx, http.MethodGet, "/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkflow fetches one workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var out Workflow
	if err := c.request(ctx, http.MethodGet, "/workflows/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateWorkflow replaces a workflow definition.
func (c *Client) UpdateWorkflow(ctx context.Context, id string, payload json.RawMessage) (Workflow, error) {
	var out Workflow
	if err := c.request(ctx, http.MethodPut, "/workflows/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActivateWorkflow turns a workflow on.
func (c *Client) ActivateWorkflow(ctx context.Context, id string) (Workflow, error) {
	var out Workflow
	if err := c.request(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/activate", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeactivateWorkflow turns a workflow off.
func (c *Client) DeactivateWorkflow(ctx context.Context, id string) (Workflow, error) {
	var out Workflow
	if err := c.request(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/deactivate", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListExecutionsOptions filters an execution list request.
type ListExecutionsOptions struct {
	WorkflowID string
	Status     string
	Limit      int
}

// ListExecutions fetches execution records, optionally filtered.
func (c *Client) ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]Execution, error) {
	params := url.Values{}
	if opts.WorkflowID != "" {
		params.Set("workflowId", opts.WorkflowID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/executions"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out []Execution
	if err := c.requestList(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetExecution fetches one execution by id.
func (c *Client) GetExecution(ctx context.Context, id string) (Execution, error) {
	var out Execution
	if err := c.request(ctx, http.MethodGet, "/executions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RetryExecution asks upstream to re-run a finished execution.
func (c *Client) RetryExecution(ctx context.Context, id string) (Execution, error) {
	var out Execution
	if err := c.request(ctx, http.MethodPost, "/executions/"+url.PathEscape(id)+"/retry", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteExecution deletes an execution upstream.
func (c *Client) DeleteExecution(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/executions/"+url.PathEscape(id), nil, nil)
}

// request performs one HTTP call and decodes a JSON object response into out
// (which may be nil for delete-style calls).
func (c *Client) request(ctx context.Context, method, path string, body json.RawMessage, out any) error {
	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp)
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read upstream response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

// requestList decodes a list response. The upstream wraps lists in a
// {"data": [...]} envelope; some deployments return a bare array, so both
// shapes are accepted. Anything else is a malformed upstream payload and is
// rejected at this boundary.
func (c *Client) requestList(ctx context.Context, method, path string, body json.RawMessage, out any) error {
	var raw json.RawMessage
	if err := c.request(ctx, method, path, body, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return fmt.Errorf("decode upstream list envelope: %w", err)
		}
		trimmed = bytes.TrimSpace(envelope.Data)
	}
	if len(trimmed) == 0 {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode upstream list: %w", err)
	}
	return nil
}

func newError(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	upErr := &Error{
		Status: resp.StatusCode,
		Body:   string(data),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		hints := &RateLimitHints{}
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				hints.RetryAfterSeconds = secs
			}
		}
		upErr.RateLimit = hints
	}
	return upErr
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
