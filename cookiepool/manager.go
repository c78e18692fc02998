// Package cookiepool manages tiered pools of authenticated platform cookies:
// selection with tier fallback, health transitions after each use, and an
// hourly usage cap.
//
// Cookie values never leave this package except through GetBest. Public
// callers see aggregates via Health; admin callers see masked views via List.
package cookiepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/mediagate/bookkeep"
	"github.com/use-agent/mediagate/metrics"
	"github.com/use-agent/mediagate/models"
)

// Outcome errors understood by RecordOutcome. Wrap them with %w to attach
// detail.
var (
	// ErrAuthRejected marks a cookie the platform no longer accepts. The
	// record becomes expired.
	ErrAuthRejected = errors.New("cookiepool: authentication rejected")
	// ErrRateLimited marks a cookie the platform is rate limiting. The
	// record cools down for Config.RateLimitCooldown.
	ErrRateLimited = errors.New("cookiepool: rate limited")
)

// Config holds health transition thresholds.
type Config struct {
	ErrorThreshold    int           // default: 3
	ErrorCooldown     time.Duration // default: 30m
	RateLimitCooldown time.Duration // default: 15m
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:    3,
		ErrorCooldown:     30 * time.Minute,
		RateLimitCooldown: 15 * time.Minute,
	}
}

// Notifier is told when a record is demoted to cooldown or expired. The
// record passed has its Value cleared.
type Notifier interface {
	CookieStatusChanged(rec models.CookieRecord, reason string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig overrides the health thresholds. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		if cfg.ErrorThreshold > 0 {
			m.cfg.ErrorThreshold = cfg.ErrorThreshold
		}
		if cfg.ErrorCooldown > 0 {
			m.cfg.ErrorCooldown = cfg.ErrorCooldown
		}
		if cfg.RateLimitCooldown > 0 {
			m.cfg.RateLimitCooldown = cfg.RateLimitCooldown
		}
	}
}

// WithNotifier registers n for status change events.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notify = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the cookie pool. It keeps the working set in memory, loaded
// lazily per platform from the Store, and writes usage back through the
// bookkeeping queue. It is safe for concurrent use.
type Manager struct {
	store  Store
	queue  *bookkeep.Queue
	notify Notifier
	now    func() time.Time
	cfg    Config

	mu     sync.Mutex
	loaded map[models.Platform]bool
	recs   map[string]*models.CookieRecord
}

// NewManager creates a Manager over store. queue may be nil, in which case
// usage is only kept in memory.
func NewManager(store Store, queue *bookkeep.Queue, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		queue:  queue,
		now:    time.Now,
		cfg:    DefaultConfig(),
		loaded: make(map[models.Platform]bool),
		recs:   make(map[string]*models.CookieRecord),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ensureLoaded reads platform p from the store once.
func (m *Manager) ensureLoaded(ctx context.Context, p models.Platform) error {
	m.mu.Lock()
	done := m.loaded[p]
	m.mu.Unlock()
	if done {
		return nil
	}

	recs, err := m.store.List(ctx, p)
	if err != nil {
		return fmt.Errorf("cookiepool: load %s: %w", p, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded[p] {
		return nil
	}
	for i := range recs {
		if _, ok := m.recs[recs[i].ID]; ok {
			continue
		}
		r := recs[i]
		m.recs[r.ID] = &r
	}
	m.loaded[p] = true
	return nil
}

// platformRecsLocked returns the working set for p. Caller holds mu.
func (m *Manager) platformRecsLocked(p models.Platform) []*models.CookieRecord {
	var out []*models.CookieRecord
	for _, r := range m.recs {
		if r.Platform == p {
			out = append(out, r)
		}
	}
	return out
}

// GetBest returns the best cookie for platform in tier, falling back from
// private to public. It returns nil, nil when both tiers are exhausted; the
// caller then proceeds unauthenticated.
//
// Selection counts as a use.
func (m *Manager) GetBest(ctx context.Context, platform models.Platform, tier models.CookieTier) (*models.CookieRecord, error) {
	if !tier.Valid() {
		tier = models.TierPublic
	}
	if err := m.ensureLoaded(ctx, platform); err != nil {
		return nil, err
	}

	m.mu.Lock()
	now := m.now()
	rec, via := pickFrom(m.platformRecsLocked(platform), tier, now)
	if rec == nil {
		m.mu.Unlock()
		slog.Debug("cookiepool: no eligible cookie", "platform", platform, "tier", tier)
		return nil, nil
	}
	m.markUsedLocked(rec, now)
	out := *rec
	m.mu.Unlock()

	slog.Debug("cookiepool: cookie selected",
		"platform", platform,
		"cookie_id", out.ID,
		"tier", out.Tier,
		"via", via,
	)
	m.persist(out)
	return &out, nil
}

// markUsedLocked applies one selection to rec. Caller holds mu.
func (m *Manager) markUsedLocked(rec *models.CookieRecord, now time.Time) {
	if rec.Status == models.CookieCooldown && !now.Before(rec.CooldownUntil) {
		rec.Status = models.CookieHealthy
		rec.CooldownUntil = time.Time{}
		rec.ErrorCount = 0
	}
	if !inHour(rec, now) {
		rec.HourStartedAt = now
		rec.HourlyUses = 0
	}
	rec.HourlyUses++
	rec.UseCount++
	rec.LastUsedAt = now
	rec.Version++

	// Reaching the cap parks the record until the hour boundary.
	if rec.MaxUsesPerHour > 0 && rec.HourlyUses >= rec.MaxUsesPerHour {
		rec.Status = models.CookieCooldown
		rec.CooldownUntil = rec.HourStartedAt.Add(time.Hour)
	}
}

// RecordOutcome updates the health of cookie id after a request. A nil
// outcomeErr with success=false is recorded as a generic error.
func (m *Manager) RecordOutcome(ctx context.Context, id string, success bool, outcomeErr error) error {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	var (
		result string
		reason string
	)

	m.mu.Lock()
	now := m.now()
	switch {
	case success:
		result = "success"
		rec.SuccessCount++
		if rec.ErrorCount > 0 {
			rec.ErrorCount--
		}
		if rec.Status == models.CookieCooldown && !now.Before(rec.CooldownUntil) {
			rec.Status = models.CookieHealthy
			rec.CooldownUntil = time.Time{}
		}
	default:
		result = "error"
		rec.ErrorCount++
		rec.LastError = describe(outcomeErr)
		switch {
		case rec.Status == models.CookieDisabled || rec.Status == models.CookieExpired:
			// terminal for selection; counters only
		case errors.Is(outcomeErr, ErrAuthRejected):
			result = "auth_rejected"
			rec.Status = models.CookieExpired
			rec.CooldownUntil = time.Time{}
			reason = "authentication rejected"
		case errors.Is(outcomeErr, ErrRateLimited):
			result = "rate_limited"
			m.coolDownLocked(rec, now.Add(m.cfg.RateLimitCooldown))
			reason = "rate limited"
		case rec.ErrorCount >= m.cfg.ErrorThreshold:
			m.coolDownLocked(rec, now.Add(m.cfg.ErrorCooldown))
			reason = fmt.Sprintf("%d consecutive errors", rec.ErrorCount)
		}
	}
	rec.Version++
	out := *rec
	m.mu.Unlock()

	metrics.CookieOutcomes.WithLabelValues(string(out.Platform), result).Inc()
	if reason != "" {
		slog.Warn("cookiepool: cookie demoted",
			"cookie_id", out.ID,
			"platform", out.Platform,
			"status", out.Status,
			"reason", reason,
		)
		if m.notify != nil {
			ev := out
			ev.Value = ""
			m.notify.CookieStatusChanged(ev, reason)
		}
	}
	m.persist(out)
	return nil
}

// coolDownLocked moves rec to cooldown until t, never shortening an
// existing cooldown.
func (m *Manager) coolDownLocked(rec *models.CookieRecord, until time.Time) {
	if rec.Status == models.CookieCooldown && rec.CooldownUntil.After(until) {
		return
	}
	rec.Status = models.CookieCooldown
	rec.CooldownUntil = until
}

// lookup returns the working record for id, reading it from the store when
// its platform is not loaded yet.
func (m *Manager) lookup(ctx context.Context, id string) (*models.CookieRecord, error) {
	m.mu.Lock()
	rec, ok := m.recs[id]
	m.mu.Unlock()
	if ok {
		return rec, nil
	}
	stored, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[id]; ok {
		return rec, nil
	}
	m.recs[id] = &stored
	return &stored, nil
}

// persist writes rec back without blocking the caller.
func (m *Manager) persist(rec models.CookieRecord) {
	if m.queue == nil {
		return
	}
	m.queue.Submit("cookie-save", func(ctx context.Context) error {
		return m.store.Save(ctx, rec)
	})
}

// describe renders an outcome error for LastError, bounded in length.
func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	s := err.Error()
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// Health returns the public aggregate for every platform. Platforms whose
// records cannot be loaded report unavailable.
func (m *Manager) Health(ctx context.Context) map[models.Platform]models.PlatformCookieHealth {
	out := make(map[models.Platform]models.PlatformCookieHealth, len(models.AllPlatforms))
	for _, p := range models.AllPlatforms {
		if err := m.ensureLoaded(ctx, p); err != nil {
			slog.Warn("cookiepool: health load failed", "platform", p, "error", err)
			out[p] = models.PlatformCookieHealth{}
			continue
		}
		m.mu.Lock()
		now := m.now()
		n := 0
		for _, r := range m.platformRecsLocked(p) {
			if ok, _ := eligible(r, now); ok {
				n++
			}
		}
		m.mu.Unlock()
		out[p] = models.PlatformCookieHealth{Available: n > 0, HealthyCount: n}
	}
	return out
}

// View is an admin-facing record with the value masked.
type View struct {
	models.CookieRecord
	MaskedValue string `json:"masked_value"`
	// Blocked names the first eligibility rule the record fails, if any.
	Blocked string `json:"blocked,omitempty"`
}

// Mask hides all but a short prefix of a cookie value.
func Mask(v string) string {
	if len(v) <= 8 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", 8)
}

func (m *Manager) viewLocked(r *models.CookieRecord, now time.Time) View {
	_, blocked := eligible(r, now)
	v := View{CookieRecord: *r, MaskedValue: Mask(r.Value), Blocked: blocked}
	v.Value = ""
	return v
}

// List returns masked views of every record for platform, or for all
// platforms when platform is empty.
func (m *Manager) List(ctx context.Context, platform models.Platform) ([]View, error) {
	platforms := models.AllPlatforms
	if platform != "" {
		platforms = []models.Platform{platform}
	}
	var out []View
	for _, p := range platforms {
		if err := m.ensureLoaded(ctx, p); err != nil {
			return nil, err
		}
		m.mu.Lock()
		now := m.now()
		for _, r := range m.platformRecsLocked(p) {
			out = append(out, m.viewLocked(r, now))
		}
		m.mu.Unlock()
	}
	sortViews(out)
	return out, nil
}

func sortViews(vs []View) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].Platform != vs[j].Platform {
			return vs[i].Platform < vs[j].Platform
		}
		if vs[i].Tier != vs[j].Tier {
			return vs[i].Tier < vs[j].Tier
		}
		return vs[i].CreatedAt.Before(vs[j].CreatedAt)
	})
}

// NewCookie is the admin input for Add.
type NewCookie struct {
	// ID is optional; a random id is generated when empty.
	ID             string
	Platform       models.Platform
	Tier           models.CookieTier
	Value          string
	Label          string
	MaxUsesPerHour int
}

// Add creates a healthy, enabled record and returns its masked view.
func (m *Manager) Add(ctx context.Context, in NewCookie) (View, error) {
	switch {
	case !in.Platform.Valid():
		return View{}, models.NewMediaError(models.ErrCodeInvalidInput, "unknown platform", nil)
	case !in.Tier.Valid():
		return View{}, models.NewMediaError(models.ErrCodeInvalidInput, "tier must be public or private", nil)
	case strings.TrimSpace(in.Value) == "":
		return View{}, models.NewMediaError(models.ErrCodeInvalidInput, "cookie value is required", nil)
	case in.MaxUsesPerHour < 0:
		return View{}, models.NewMediaError(models.ErrCodeInvalidInput, "max_uses_per_hour must be >= 0", nil)
	}
	if err := m.ensureLoaded(ctx, in.Platform); err != nil {
		return View{}, err
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := m.now()
	rec := models.CookieRecord{
		ID:             id,
		Platform:       in.Platform,
		Tier:           in.Tier,
		Value:          strings.TrimSpace(in.Value),
		Label:          in.Label,
		Status:         models.CookieHealthy,
		MaxUsesPerHour: in.MaxUsesPerHour,
		Enabled:        true,
		CreatedAt:      now,
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return View{}, fmt.Errorf("cookiepool: create: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = &rec
	slog.Info("cookiepool: cookie added", "cookie_id", rec.ID, "platform", rec.Platform, "tier", rec.Tier)
	return m.viewLocked(&rec, now), nil
}

// SetEnabled toggles the Enabled flag. Disabled records stay disabled.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) (View, error) {
	return m.update(ctx, id, func(r *models.CookieRecord) error {
		if r.Status == models.CookieDisabled && enabled {
			return models.NewMediaError(models.ErrCodeInvalidInput, "cookie is permanently disabled", nil)
		}
		r.Enabled = enabled
		return nil
	})
}

// Disable moves the record to the terminal disabled status.
func (m *Manager) Disable(ctx context.Context, id string) (View, error) {
	return m.update(ctx, id, func(r *models.CookieRecord) error {
		r.Status = models.CookieDisabled
		r.Enabled = false
		r.CooldownUntil = time.Time{}
		return nil
	})
}

// update applies fn to the working record and saves it synchronously. The
// change lands in memory first so selections that race the write see it.
func (m *Manager) update(ctx context.Context, id string, fn func(*models.CookieRecord) error) (View, error) {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return View{}, models.NewMediaError(models.ErrCodeNotFound, "cookie not found", err)
		}
		return View{}, err
	}

	m.mu.Lock()
	prev := *rec
	next := *rec
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		return View{}, err
	}
	next.Version++
	*rec = next
	m.mu.Unlock()

	if err := m.store.Save(ctx, next); err != nil {
		m.mu.Lock()
		if rec.Version == next.Version {
			*rec = prev
		}
		m.mu.Unlock()
		return View{}, fmt.Errorf("cookiepool: save: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked(rec, m.now()), nil
}
