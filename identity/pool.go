// Package identity rotates browser fingerprints across outbound requests.
package identity

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/use-agent/mediagate/bookkeep"
	"github.com/use-agent/mediagate/models"
)

// Source supplies browser profiles and records their usage.
type Source interface {
	Profiles(ctx context.Context) ([]models.BrowserProfile, error)
	RecordUse(ctx context.Context, id string, at time.Time) error
}

// Pool selects one BrowserProfile per outbound request. It is safe for
// concurrent use.
type Pool struct {
	source   Source
	queue    *bookkeep.Queue
	fallback []models.BrowserProfile
	cacheTTL time.Duration
	rnd      func() float64
	now      func() time.Time

	mu       sync.Mutex
	cached   []models.BrowserProfile
	cachedAt time.Time
	lastID   map[string]string // selection key -> last profile id
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand overrides the random source (tests).
func WithRand(rnd func() float64) Option {
	return func(p *Pool) { p.rnd = rnd }
}

// WithClock overrides the clock (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithCacheTTL sets how long source profiles are reused before refetching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *Pool) { p.cacheTTL = ttl }
}

// NewPool creates a Pool. source may be nil, in which case only the
// built-in profiles are used. queue may be nil to skip usage recording.
func NewPool(source Source, queue *bookkeep.Queue, opts ...Option) *Pool {
	p := &Pool{
		source:   source,
		queue:    queue,
		fallback: BuiltinProfiles(),
		cacheTTL: 30 * time.Second,
		rnd:      rand.Float64,
		now:      time.Now,
		lastID:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select returns a profile for platform. chromiumOnly restricts the choice
// to Chromium profiles for platforms that fingerprint on Client Hints.
// It never fails: when the source is unavailable the built-in pool is used.
func (p *Pool) Select(ctx context.Context, platform models.Platform, chromiumOnly bool) models.BrowserProfile {
	profiles := p.profiles(ctx)
	candidates := filterCandidates(profiles, platform, chromiumOnly)
	if len(candidates) == 0 {
		candidates = filterCandidates(p.fallback, platform, chromiumOnly)
	}
	if len(candidates) == 0 {
		candidates = p.fallback
	}

	key := selectionKey(platform, chromiumOnly)

	p.mu.Lock()
	chosen := pickWeighted(candidates, p.lastID[key], p.rnd())
	p.lastID[key] = chosen.ID
	p.mu.Unlock()

	p.recordUse(chosen.ID)
	return chosen
}

// profiles returns the cached source profiles, refreshing them when stale.
func (p *Pool) profiles(ctx context.Context) []models.BrowserProfile {
	if p.source == nil {
		return p.fallback
	}

	p.mu.Lock()
	if p.cached != nil && p.now().Sub(p.cachedAt) < p.cacheTTL {
		cached := p.cached
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	fresh, err := p.source.Profiles(ctx)
	if err != nil {
		slog.Warn("identity: profile source unavailable, using built-in pool", "error", err)
		return p.fallback
	}

	p.mu.Lock()
	p.cached = fresh
	p.cachedAt = p.now()
	p.mu.Unlock()
	return fresh
}

func (p *Pool) recordUse(id string) {
	if p.source == nil || p.queue == nil || id == "" {
		return
	}
	at := p.now()
	p.queue.Submit("profile-use", func(ctx context.Context) error {
		return p.source.RecordUse(ctx, id, at)
	})
}

func selectionKey(platform models.Platform, chromiumOnly bool) string {
	key := string(platform)
	if key == "" {
		key = models.ScopeAll
	}
	if chromiumOnly {
		key += "+chromium"
	}
	return key
}
