package upstream

// Workflow is a workflow object as returned by the upstream API. The gateway
// proxies these through mostly untouched, so the representation stays a JSON
// object with typed accessors for the fields the core reads.
type Workflow map[string]any

// ID returns the workflow identifier, or "" when absent.
func (w Workflow) ID() string { return stringField(w, "id") }

// Name returns the workflow name, or "" when absent.
func (w Workflow) Name() string { return stringField(w, "name") }

// Active reports whether the workflow is active upstream.
func (w Workflow) Active() bool {
	b, _ := w["active"].(bool)
	return b
}

// Execution is an execution record as returned upstream. Records are
// immutable snapshots; callers must not mutate them.
type Execution map[string]any

// ID returns the execution identifier, or "" when absent. Upstream sends
// either a string or a number here.
func (e Execution) ID() string { return stringField(e, "id") }

// Status returns the execution status (success, error, waiting, running, ...).
func (e Execution) Status() string { return stringField(e, "status") }

// StartedAt returns the RFC3339 start timestamp, or "" when absent.
func (e Execution) StartedAt() string { return stringField(e, "startedAt") }

// StoppedAt returns the RFC3339 stop timestamp, or "" when absent.
func (e Execution) StoppedAt() string { return stringField(e, "stoppedAt") }

// WorkflowID returns the owning workflow identifier, or "" when absent.
func (e Execution) WorkflowID() string { return stringField(e, "workflowId") }

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return formatNumber(v)
	default:
		return ""
	}
}
