// Package pacing tracks per-platform request rates and applies cooldowns
// after bursts or upstream rate-limit responses.
//
// Throttling is advisory: callers decide whether to skip, delay or surface
// an error. State is process-local and under-counts across replicas.
package pacing

import (
	"math"
	"sync"
	"time"

	"github.com/use-agent/mediagate/models"
)

// Phase is the state of one platform's state machine.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseCooldown Phase = "cooldown"
)

// Config holds the tracker thresholds.
type Config struct {
	// Window is the rolling window for the request counter.
	Window time.Duration // default: 60s

	// BurstThreshold is the request count within Window that triggers
	// BurstCooldown.
	BurstThreshold int // default: 30

	BurstCooldown time.Duration // default: 30s

	// BaseBackoff and MaxBackoff bound the cooldown applied after an
	// upstream rate-limit signal: min(Max, Base * 2^floor(count/BackoffStep)).
	BaseBackoff time.Duration // default: 30s
	MaxBackoff  time.Duration // default: 120s
	BackoffStep int           // default: 10
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Window:         60 * time.Second,
		BurstThreshold: 30,
		BurstCooldown:  30 * time.Second,
		BaseBackoff:    30 * time.Second,
		MaxBackoff:     120 * time.Second,
		BackoffStep:    10,
	}
}

type state struct {
	lastRequestAt time.Time
	count         int
	cooldownUntil time.Time // zero when not throttled
}

// Tracker holds RateLimitState per platform. It is safe for concurrent use.
type Tracker struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	states map[models.Platform]*state
}

// NewTracker creates a Tracker. now may be nil to use time.Now.
func NewTracker(cfg Config, now func() time.Time) *Tracker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BurstThreshold <= 0 {
		cfg.BurstThreshold = def.BurstThreshold
	}
	if cfg.BurstCooldown <= 0 {
		cfg.BurstCooldown = def.BurstCooldown
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = def.BackoffStep
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		cfg:    cfg,
		now:    now,
		states: make(map[models.Platform]*state),
	}
}

// stateLocked returns the state for p, creating it lazily. Caller holds mu.
func (t *Tracker) stateLocked(p models.Platform) *state {
	s, ok := t.states[p]
	if !ok {
		s = &state{}
		t.states[p] = s
	}
	return s
}

// ShouldThrottle reports whether p is cooling down. A cooldown that has
// elapsed is cleared.
func (t *Tracker) ShouldThrottle(p models.Platform) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[p]
	if !ok || s.cooldownUntil.IsZero() {
		return false
	}
	if !t.now().Before(s.cooldownUntil) {
		s.cooldownUntil = time.Time{}
		return false
	}
	return true
}

// TrackRequest counts one outbound request to p. Crossing the burst
// threshold within the window starts a cooldown.
func (t *Tracker) TrackRequest(p models.Platform) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	s := t.stateLocked(p)
	if now.Sub(s.lastRequestAt) > t.cfg.Window {
		s.count = 0
	}
	s.count++
	s.lastRequestAt = now
	if s.count >= t.cfg.BurstThreshold {
		until := now.Add(t.cfg.BurstCooldown)
		if until.After(s.cooldownUntil) {
			s.cooldownUntil = until
		}
	}
}

// MarkRateLimited applies exponential backoff after an upstream 429 or an
// equivalent signal, and returns the cooldown applied.
func (t *Tracker) MarkRateLimited(p models.Platform) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	s := t.stateLocked(p)
	count := s.count
	if now.Sub(s.lastRequestAt) > t.cfg.Window {
		count = 0
	}
	d := t.backoff(count)
	s.cooldownUntil = now.Add(d)
	return d
}

func (t *Tracker) backoff(count int) time.Duration {
	exp := count / t.cfg.BackoffStep
	// The result is clamped to MaxBackoff below.
	if exp > 16 {
		exp = 16
	}
	d := time.Duration(float64(t.cfg.BaseBackoff) * math.Pow(2, float64(exp)))
	if d > t.cfg.MaxBackoff {
		d = t.cfg.MaxBackoff
	}
	return d
}

// Snapshot describes a platform's current pacing state.
type Snapshot struct {
	Phase             Phase         `json:"phase"`
	RequestsInWindow  int           `json:"requests_in_window"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
}

// Snapshot returns the current state of p without modifying it.
func (t *Tracker) Snapshot(p models.Platform) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	s, ok := t.states[p]
	if !ok {
		return Snapshot{Phase: PhaseIdle}
	}
	if !s.cooldownUntil.IsZero() && now.Before(s.cooldownUntil) {
		return Snapshot{
			Phase:             PhaseCooldown,
			RequestsInWindow:  s.count,
			CooldownRemaining: s.cooldownUntil.Sub(now),
		}
	}
	if now.Sub(s.lastRequestAt) > t.cfg.Window {
		return Snapshot{Phase: PhaseIdle}
	}
	return Snapshot{Phase: PhaseActive, RequestsInWindow: s.count}
}
