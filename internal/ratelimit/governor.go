package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// LimitExceededError signals that a fixed window is exhausted. It carries
// everything a caller needs to build a 429 response or back off.
type LimitExceededError struct {
	Decision          Decision
	RetryAfterSeconds int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: retry after %ds", e.RetryAfterSeconds)
}

// Governor gates external-facing operations behind configured fixed windows.
type Governor struct {
	limiter     Limiter
	window      time.Duration
	globalLimit int
	userLimit   int
	now         func() time.Time
}

// Config holds the governed windows.
type Config struct {
	Window      time.Duration
	GlobalLimit int
	UserLimit   int
}

// NewGovernor wires a Governor over a Limiter backend.
func NewGovernor(limiter Limiter, cfg Config) *Governor {
	return &Governor{
		limiter:     limiter,
		window:      cfg.Window,
		globalLimit: cfg.GlobalLimit,
		userLimit:   cfg.UserLimit,
		now:         time.Now,
	}
}

// Check consumes a hit for key and returns the window state.
func (g *Governor) Check(key string, limit int, window time.Duration) Decision {
	return g.limiter.Check(key, limit, window)
}

// Enforce consumes a hit for key and returns a LimitExceededError if the
// window is exhausted.
func (g *Governor) Enforce(key string, limit int, window time.Duration) error {
	d := g.limiter.Check(key, limit, window)
	if d.Allowed {
		return nil
	}
	return &LimitExceededError{
		Decision:          d,
		RetryAfterSeconds: g.retryAfterSeconds(d.ResetAt),
	}
}

// EnforceGlobal consumes a hit for a named operation against the global
// limit. Used for unauthenticated surfaces such as webhook ingestion.
func (g *Governor) EnforceGlobal(key string) error {
	return g.Enforce(key, g.globalLimit, g.window)
}

// EnforceScoped applies the global window and then the per-user window, in
// that order. The user check is skipped entirely when the global window
// already rejected, so a rejected request is only counted once.
func (g *Governor) EnforceScoped(userID string) error {
	if err := g.Enforce("global", g.globalLimit, g.window); err != nil {
		return err
	}
	return g.Enforce("user:"+userID, g.userLimit, g.window)
}

// Close releases the underlying limiter backend.
func (g *Governor) Close() {
	g.limiter.Close()
}

func (g *Governor) retryAfterSeconds(resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(g.now()).Seconds()))
	if secs < 0 {
		secs = 0
	}
	return secs
}
