// Package guest enforces per-IP quotas on the unauthenticated extraction
// surfaces. A URL already looked up by the same IP within its window is
// served again without consuming quota.
package guest

import (
	"context"
	"time"
)

// Result is the outcome of a quota check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetIn   time.Duration
	// Repeat is set when the URL was already seen in the window and no
	// quota was consumed.
	Repeat bool
}

// Store holds the per-key counters and seen-URL sets. Implementations must
// make Hit atomic per key.
type Store interface {
	// Hit records a lookup of url for key. A URL already seen in the window
	// is allowed without consuming quota; otherwise one unit is consumed if
	// available and the URL is marked seen.
	Hit(ctx context.Context, key, url string, limit int, window time.Duration, now time.Time) (Result, error)
	// Peek reports the quota for key without consuming it.
	Peek(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// Limiter is one fixed-window quota surface.
type Limiter struct {
	name   string
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter creates a Limiter named name. Limiters sharing a store are
// kept apart by name.
func NewLimiter(name string, store Store, limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = 2 * time.Minute
	}
	return &Limiter{name: name, store: store, limit: limit, window: window, now: time.Now}
}

// WithClock replaces the clock and returns l.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Name returns the surface name.
func (l *Limiter) Name() string { return l.name }

// Limit returns the per-window quota.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) key(ip string) string { return l.name + ":" + ip }

// Check consumes quota for ip looking up normalizedURL. Callers validate
// the URL and platform before calling, so rejected input never costs
// quota.
func (l *Limiter) Check(ctx context.Context, ip, normalizedURL string) (Result, error) {
	return l.store.Hit(ctx, l.key(ip), normalizedURL, l.limit, l.window, l.now())
}

// Peek reports the remaining quota for ip without consuming it.
func (l *Limiter) Peek(ctx context.Context, ip string) (Result, error) {
	return l.store.Peek(ctx, l.key(ip), l.limit, l.now())
}
