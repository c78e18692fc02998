package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/use-agent/mediagate/apiclient"
	"github.com/use-agent/mediagate/cache"
	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/identity"
	"github.com/use-agent/mediagate/media"
	"github.com/use-agent/mediagate/metrics"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/pacing"
	"github.com/use-agent/mediagate/platform"
)

// Fetcher performs buffered upstream requests.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts apiclient.Options) (*apiclient.Response, error)
}

// Cookies is the part of the cookie pool the pipeline needs.
type Cookies interface {
	GetBest(ctx context.Context, p models.Platform, tier models.CookieTier) (*models.CookieRecord, error)
	RecordOutcome(ctx context.Context, id string, success bool, outcomeErr error) error
}

// Options controls one extraction.
type Options struct {
	// Tier is the cookie tier to draw from when the post is gated.
	// Private falls back to public. Default: public.
	Tier models.CookieTier
	// AllowCookie permits substituting a pool cookie for gated content.
	AllowCookie bool
	// SkipCache bypasses the result cache lookup. Fresh results are still
	// stored.
	SkipCache bool
}

// Config tunes the pipeline.
type Config struct {
	Disabled []models.Platform
	CacheTTL time.Duration // default: 10m, negative disables caching

	// Timeout bounds one complete extraction, shared by coalesced callers.
	Timeout             time.Duration // default: 45s
	FetchTimeout        time.Duration // per attempt, default: client default
	FirstAttemptTimeout time.Duration
}

// Deps are the collaborators of a Service. Cookies and Cache may be nil.
type Deps struct {
	Fetcher    Fetcher
	Identities *identity.Pool
	Tracker    *pacing.Tracker
	Cookies    Cookies
	Registry   *Registry
	Cache      *cache.Cache
}

// Result is one extraction outcome.
type Result struct {
	*models.ExtractResult
	Cached bool
}

// Service runs extractions. It is safe for concurrent use.
type Service struct {
	deps        Deps
	cfg         Config
	disabled    map[models.Platform]bool
	maintenance atomic.Bool
	group       singleflight.Group
	now         func() time.Time
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry(nil)
	}
	s := &Service{
		deps:     deps,
		cfg:      cfg,
		disabled: make(map[models.Platform]bool, len(cfg.Disabled)),
		now:      time.Now,
	}
	for _, p := range cfg.Disabled {
		s.disabled[p] = true
	}
	return s
}

// SetMaintenance toggles maintenance mode, in which every extraction fails
// with MAINTENANCE.
func (s *Service) SetMaintenance(on bool) { s.maintenance.Store(on) }

// Maintenance reports whether maintenance mode is on.
func (s *Service) Maintenance() bool { return s.maintenance.Load() }

// Disabled reports whether p is switched off.
func (s *Service) Disabled(p models.Platform) bool { return s.disabled[p] }

// Target is a supported post URL. URL is the canonical form used for cache
// and quota keys; Source is what the caller sent, minus any fragment, and
// is what gets fetched.
type Target struct {
	URL      string
	Source   string
	Platform models.Platform
}

// Resolve normalizes rawURL and detects its platform. It checks nothing
// stateful, so callers can validate input before charging quota.
func (s *Service) Resolve(rawURL string) (Target, error) {
	if rawURL == "" {
		return Target{}, models.NewMediaError(models.ErrCodeInvalidInput, "url is required", nil)
	}
	normalized, err := media.NormalizeSocialURL(rawURL)
	if err != nil {
		return Target{}, models.NewMediaError(models.ErrCodeInvalidInput, "url is not a valid http(s) URL", err)
	}
	p, ok := platform.Detect(normalized)
	if !ok {
		return Target{}, models.NewMediaError(models.ErrCodeUnsupportedPlatform, "url does not belong to a supported platform", nil)
	}
	src, _ := url.Parse(strings.TrimSpace(rawURL))
	src.Fragment, src.RawFragment = "", ""
	return Target{URL: normalized, Source: src.String(), Platform: p}, nil
}

// Available reports MAINTENANCE or PLATFORM_DISABLED for p, or nil.
func (s *Service) Available(p models.Platform) error {
	if s.Maintenance() {
		return models.NewMediaError(models.ErrCodeMaintenance, "service is in maintenance mode", nil)
	}
	if s.disabled[p] {
		return models.NewMediaError(models.ErrCodePlatformDisabled, fmt.Sprintf("%s is temporarily disabled", p), nil)
	}
	return nil
}

// Extract runs the pipeline for rawURL. Errors are *models.MediaError.
func (s *Service) Extract(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	target, err := s.Resolve(rawURL)
	if err != nil {
		return nil, err
	}
	if err := s.Available(target.Platform); err != nil {
		return nil, err
	}
	if opts.Tier == "" {
		opts.Tier = models.TierPublic
	}

	key := cache.Key(target.URL, target.Platform)
	if s.deps.Cache != nil && !opts.SkipCache {
		if res, ok := s.deps.Cache.Get(key); ok {
			return &Result{ExtractResult: res, Cached: true}, nil
		}
	}

	flightKey := fmt.Sprintf("%s|%s|%t", key, opts.Tier, opts.AllowCookie)
	ch := s.group.DoChan(flightKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
		defer cancel()
		res, err := s.run(fctx, target, opts)
		if err != nil {
			return nil, err
		}
		if s.deps.Cache != nil && s.cfg.CacheTTL > 0 {
			s.deps.Cache.Set(key, res, s.cfg.CacheTTL)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, models.NewMediaError(models.ErrCodeUpstreamTimeout, "request cancelled", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*models.ExtractResult)
		res.Formats = append([]models.MediaFormat(nil), res.Formats...)
		return &Result{ExtractResult: &res}, nil
	}
}

func (s *Service) run(ctx context.Context, target Target, opts Options) (*models.ExtractResult, error) {
	start := s.now()
	info, _ := platform.Lookup(target.Platform)

	res, gated, err := s.attempt(ctx, target, info, nil)
	if err != nil {
		return nil, err
	}
	if gated && opts.AllowCookie && info.CookieCapable && s.deps.Cookies != nil {
		cookie, cerr := s.deps.Cookies.GetBest(ctx, target.Platform, opts.Tier)
		if cerr != nil {
			slog.Warn("cookie selection failed", "platform", target.Platform, "error", cerr)
		}
		if cookie != nil {
			res, gated, err = s.attempt(ctx, target, info, cookie)
			if err != nil {
				return nil, err
			}
		}
	}
	if res == nil || len(res.Formats) == 0 {
		msg := "no downloadable media found"
		if gated {
			msg = "content requires login"
		}
		return nil, models.NewMediaError(models.ErrCodeNoMedia, msg, nil)
	}

	res.Platform = target.Platform
	res.SourceURL = target.URL
	res.ResponseTime = s.now().Sub(start).Milliseconds()
	slog.Info("extracted",
		"platform", target.Platform,
		"formats", len(res.Formats),
		"used_cookie", res.UsedCookie,
		"duration_ms", res.ResponseTime,
	)
	return res, nil
}

// attempt fetches and extracts the page once, with cookie when non-nil.
// gated reports a login wall.
func (s *Service) attempt(ctx context.Context, target Target, info platform.Info, cookie *models.CookieRecord) (*models.ExtractResult, bool, error) {
	tracker := s.deps.Tracker
	if tracker.ShouldThrottle(target.Platform) {
		metrics.ThrottleDecisions.WithLabelValues(string(target.Platform), "throttled").Inc()
		return nil, false, models.NewMediaError(models.ErrCodePlatformThrottled,
			fmt.Sprintf("%s is cooling down, retry shortly", target.Platform), nil)
	}
	metrics.ThrottleDecisions.WithLabelValues(string(target.Platform), "allowed").Inc()

	profile := s.deps.Identities.Select(ctx, target.Platform, info.ChromiumOnly)
	fopts := apiclient.Options{
		Header:              identity.Headers(profile),
		Timeout:             s.cfg.FetchTimeout,
		FirstAttemptTimeout: s.cfg.FirstAttemptTimeout,
	}
	if cookie != nil {
		fopts.Auth.Cookie = cookie.Value
	}

	tracker.TrackRequest(target.Platform)
	resp, err := s.deps.Fetcher.Fetch(ctx, target.Source, fopts)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Status == http.StatusTooManyRequests:
				cooldown := tracker.MarkRateLimited(target.Platform)
				metrics.ThrottleDecisions.WithLabelValues(string(target.Platform), "rate_limited").Inc()
				slog.Warn("upstream rate limited", "platform", target.Platform, "cooldown", cooldown)
				s.recordCookie(ctx, cookie, false, cookiepool.ErrRateLimited)
				return nil, false, models.NewMediaError(models.ErrCodePlatformThrottled,
					fmt.Sprintf("%s is rate limiting requests, retry shortly", target.Platform), err)
			case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
				if cookie != nil {
					s.recordCookie(ctx, cookie, false, cookiepool.ErrAuthRejected)
				}
				return nil, true, nil
			case apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone:
				return nil, false, models.NewMediaError(models.ErrCodeNotFound, "post not found", err)
			case apiErr.Status >= 500:
				s.recordCookie(ctx, cookie, false, err)
			}
		}
		return nil, false, upstreamError(err)
	}

	page := &Page{
		URL:      target.Source,
		FinalURL: resp.URL,
		Platform: target.Platform,
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
	}
	res, err := s.deps.Registry.For(target.Platform).Extract(ctx, page)
	if errors.Is(err, ErrLoginRequired) {
		if cookie != nil {
			s.recordCookie(ctx, cookie, false, cookiepool.ErrAuthRejected)
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, models.NewMediaError(models.ErrCodeUpstreamError, "could not read the post page", err)
	}
	if res == nil {
		res = &models.ExtractResult{}
	}
	s.recordCookie(ctx, cookie, true, nil)

	base := page.FinalURL
	if base == "" {
		base = page.URL
	}
	res.Formats = media.NormalizeFormats(base, res.Formats)
	res.UsedCookie = cookie != nil
	gated := len(res.Formats) == 0 && cookie == nil && info.CookieCapable
	return res, gated, nil
}

func (s *Service) recordCookie(ctx context.Context, cookie *models.CookieRecord, success bool, outcome error) {
	if cookie == nil || s.deps.Cookies == nil {
		return
	}
	if err := s.deps.Cookies.RecordOutcome(ctx, cookie.ID, success, outcome); err != nil {
		slog.Debug("record cookie outcome", "cookie_id", cookie.ID, "error", err)
	}
}

// upstreamError maps apiclient errors onto media error codes.
func upstreamError(err error) error {
	var (
		timeoutErr *apiclient.TimeoutError
		offlineErr *apiclient.OfflineError
		apiErr     *apiclient.APIError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return models.NewMediaError(models.ErrCodeUpstreamTimeout, "upstream timed out", err)
	case errors.As(err, &offlineErr):
		return models.NewMediaError(models.ErrCodeUpstreamOffline, "upstream is unreachable", err)
	case errors.As(err, &apiErr):
		return models.NewMediaError(models.ErrCodeUpstreamError, fmt.Sprintf("upstream returned %d", apiErr.Status), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.NewMediaError(models.ErrCodeUpstreamTimeout, "extraction timed out", err)
	default:
		return models.NewMediaError(models.ErrCodeUpstreamError, "upstream request failed", err)
	}
}
