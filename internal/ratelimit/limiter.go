// Package ratelimit implements fixed-window request governance. A window of
// length `window` starts at the first hit after the previous window's reset
// and the counter resets entirely when it passes; there is no sliding window
// and no token bucket.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a single rate-limit check. Every check consumes
// a hit; there is no peek-without-consume.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Limiter counts hits per key in fixed windows.
type Limiter interface {
	Check(key string, limit int, window time.Duration) Decision
	Close()
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Memory is the in-process Limiter. The bucket map is owned exclusively by
// this struct and guarded by a mutex so concurrent checks on the same key
// never lose increments.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	// now is injectable for window tests.
	now func() time.Time
}

// NewMemory creates an in-memory fixed-window limiter.
func NewMemory() *Memory {
	return &Memory{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Check increments the key's bucket and reports whether the hit is within
// the limit. Buckets are created lazily and reset lazily when the window
// has passed.
func (m *Memory) Check(key string, limit int, window time.Duration) Decision {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{resetAt: now.Add(window)}
		m.buckets[key] = b
	}

	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(window)
	}

	b.count++

	remaining := limit - b.count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   b.count <= limit,
		Remaining: remaining,
		ResetAt:   b.resetAt,
		Limit:     limit,
	}
}

// Close is a no-op for the in-memory limiter.
func (m *Memory) Close() {}
