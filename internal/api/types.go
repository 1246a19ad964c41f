package api

import "time"

// ErrorResponse is the common error body.
type ErrorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// HealthzResponse is the body for GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Instances     int    `json:"instances"`
}

// InstanceResponse describes a managed instance. Credentials are never
// included in any form.
type InstanceResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	IsActive        bool       `json:"isActive"`
	HealthStatus    string     `json:"healthStatus"`
	LastHealthCheck *time.Time `json:"lastHealthCheck,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// CreateInstanceRequest is the body for POST /instances.
type CreateInstanceRequest struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"apiKey"`
}

// UpdateInstanceRequest is the body for PUT /instances/{instanceID}.
// An empty APIKey keeps the stored credentials.
type UpdateInstanceRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	APIKey   string `json:"apiKey"`
	IsActive bool   `json:"isActive"`
}

// BulkActivateRequest is the body for POST /instances/{id}/workflows/activate.
type BulkActivateRequest struct {
	IDs []string `json:"ids"`
}

// BulkActivateFailure records one workflow that could not be activated.
type BulkActivateFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkActivateResponse tallies a bulk activation run.
type BulkActivateResponse struct {
	Activated []string              `json:"activated"`
	Failed    []BulkActivateFailure `json:"failed"`
}

// ExecutionListResponse is the body for GET /instances/{id}/executions.
type ExecutionListResponse struct {
	Data   []map[string]any `json:"data"`
	Count  int              `json:"count"`
	Source string           `json:"source"`
}

// PolicyResponse describes a retention policy.
type PolicyResponse struct {
	ID            string    `json:"id"`
	InstanceID    string    `json:"instanceId"`
	WorkflowID    string    `json:"workflowId,omitempty"`
	RetentionDays int       `json:"retentionDays"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreatePolicyRequest is the body for POST /retention-policies.
type CreatePolicyRequest struct {
	InstanceID    string `json:"instanceId"`
	WorkflowID    string `json:"workflowId"`
	RetentionDays int    `json:"retentionDays"`
}

// UpdatePolicyRequest is the body for PUT /retention-policies/{policyID}.
type UpdatePolicyRequest struct {
	RetentionDays int `json:"retentionDays"`
}

// AuditEntryResponse is one audit trail record.
type AuditEntryResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// WebhookAcceptedResponse is the body for an accepted webhook.
type WebhookAcceptedResponse struct {
	ID string `json:"id"`
}
