package upstream

import (
	"fmt"
	"net/http"
)

// RateLimitHints carries upstream backoff hints. Populated only when the
// upstream status indicates rate limiting.
type RateLimitHints struct {
	RetryAfterSeconds int
}

// Error is a structured non-success response from the upstream API. The
// status code and body are preserved so callers can decide whether to pass
// the status through or map it to a gateway error.
type Error struct {
	Status    int
	Body      string
	RateLimit *RateLimitHints
}

func (e *Error) Error() string {
	if e.RateLimit != nil {
		return fmt.Sprintf("upstream request failed: %d (retry after %ds)", e.Status, e.RateLimit.RetryAfterSeconds)
	}
	return fmt.Sprintf("upstream request failed: %d %s", e.Status, truncate(e.Body, 200))
}

// IsRateLimited reports whether the upstream throttled the request.
func (e *Error) IsRateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
