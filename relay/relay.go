// Package relay streams media from allow-listed platform CDNs to clients.
// Every target, including every redirect hop, passes the Validator before
// any upstream connection is made.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/mediagate/apiclient"
	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/identity"
	"github.com/use-agent/mediagate/media"
	"github.com/use-agent/mediagate/metrics"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/platform"
)

const (
	bufSize      = 128 << 10
	maxRedirects = 10
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufSize)
		return &b
	},
}

// Cookies is the part of the cookie pool the relay needs.
type Cookies interface {
	GetBest(ctx context.Context, p models.Platform, tier models.CookieTier) (*models.CookieRecord, error)
	RecordOutcome(ctx context.Context, id string, success bool, outcomeErr error) error
}

// Upstream opens streaming upstream requests.
type Upstream interface {
	Open(ctx context.Context, req *http.Request, opts apiclient.Options) (*http.Response, error)
}

// Params are the client-supplied proxy parameters.
type Params struct {
	URL      string
	Filename string
	Platform models.Platform
	Inline   bool
	Head     bool
}

// Config tunes upstream behaviour.
type Config struct {
	Timeout time.Duration // time to upstream headers, default: 30s
	Retries int           // 0 disables retries, negative: default of 1
}

// Relay is the media proxy.
type Relay struct {
	validator  *Validator
	upstream   Upstream
	identities *identity.Pool
	cookies    Cookies
	cfg        Config
}

// New creates a Relay. cookies may be nil.
func New(v *Validator, upstream Upstream, identities *identity.Pool, cookies Cookies, cfg Config) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 1
	}
	return &Relay{
		validator:  v,
		upstream:   upstream,
		identities: identities,
		cookies:    cookies,
		cfg:        cfg,
	}
}

// Validator returns the validator the relay checks targets with.
func (r *Relay) Validator() *Validator { return r.validator }

// Serve validates p, fetches the target and streams it to w. Errors
// returned before anything was written are for the caller to render:
// *Rejection for validation failures, apiclient errors for upstream
// failures. Once the response has started, errors are only logged.
func (r *Relay) Serve(ctx context.Context, w http.ResponseWriter, in *http.Request, p Params) error {
	target, err := r.validator.Validate(p.URL, p.Platform)
	if err != nil {
		return err
	}
	info, _ := platform.Lookup(target.Platform)

	head := p.Head || in.Method == http.MethodHead
	method := http.MethodGet
	if head {
		method = http.MethodHead
	}
	req, err := http.NewRequestWithContext(ctx, method, target.URL.String(), nil)
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}

	profile := r.identities.Select(ctx, target.Platform, info.ChromiumOnly)
	req.Header = identity.MediaHeaders(profile)
	if info.Referer != "" {
		req.Header.Set("Referer", info.Referer)
	}
	if info.Origin != "" {
		req.Header.Set("Origin", info.Origin)
	}
	if !head {
		if rg := in.Header.Get("Range"); rg != "" {
			req.Header.Set("Range", rg)
		}
		if ir := in.Header.Get("If-Range"); ir != "" {
			req.Header.Set("If-Range", ir)
		}
	}

	opts := apiclient.Options{
		Timeout:       r.cfg.Timeout,
		Retries:       upstreamRetries(r.cfg.Retries),
		CheckRedirect: r.checkRedirect(target.Platform),
	}
	var cookie *models.CookieRecord
	if info.CDNNeedsCookie && r.cookies != nil {
		cookie, err = r.cookies.GetBest(ctx, target.Platform, models.TierPublic)
		if err != nil {
			slog.Warn("relay: cookie lookup failed", "platform", target.Platform, "error", err)
		}
		if cookie != nil {
			opts.Auth.Cookie = cookie.Value
		}
	}

	resp, err := r.upstream.Open(ctx, req, opts)
	if err != nil {
		r.recordCookie(ctx, cookie, 0, err)
		return err
	}
	defer resp.Body.Close()
	r.recordCookie(ctx, cookie, resp.StatusCode, nil)

	if head {
		writeProbe(w, resp)
		return nil
	}

	filename := p.Filename
	if filename == "" {
		filename = path.Base(target.URL.Path)
	}
	copyHeaders(w.Header(), resp)
	if resp.StatusCode < 400 {
		ct := resp.Header.Get("Content-Type")
		w.Header().Set("Content-Disposition", media.ContentDisposition(p.Inline, filename, ct))
		if p.Inline {
			w.Header().Set("Cache-Control", "public, max-age=86400")
		} else {
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
		}
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(resp.StatusCode)

	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	n, err := io.CopyBuffer(w, onlyReader{resp.Body}, *bp)
	metrics.ProxyBytes.Add(float64(n))
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("relay: stream interrupted",
			"host", target.Host,
			"bytes", n,
			"error", err,
		)
	}
	return nil
}

// onlyReader hides WriterTo so io.CopyBuffer uses the pooled buffer.
type onlyReader struct{ io.Reader }

// checkRedirect re-validates every redirect hop against the same rules.
func (r *Relay) checkRedirect(p models.Platform) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return &Rejection{Reason: ReasonNotAllowed, Host: req.URL.Hostname(), Err: errors.New("too many redirects")}
		}
		_, err := r.validator.Validate(req.URL.String(), p)
		return err
	}
}

func (r *Relay) recordCookie(ctx context.Context, c *models.CookieRecord, status int, err error) {
	if c == nil {
		return
	}
	var outcome error
	switch {
	case err != nil:
		outcome = err
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		outcome = fmt.Errorf("cdn status %d: %w", status, cookiepool.ErrAuthRejected)
	case status == http.StatusTooManyRequests:
		outcome = fmt.Errorf("cdn status %d: %w", status, cookiepool.ErrRateLimited)
	case status >= 500:
		outcome = fmt.Errorf("cdn status %d", status)
	}
	if rerr := r.cookies.RecordOutcome(ctx, c.ID, outcome == nil, outcome); rerr != nil {
		slog.Warn("relay: record cookie outcome", "cookie_id", c.ID, "error", rerr)
	}
}

// upstreamRetries maps a retry count onto apiclient.Options, where zero
// means the client default.
func upstreamRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

var passHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"ETag",
}

func copyHeaders(dst http.Header, resp *http.Response) {
	for _, k := range passHeaders {
		if v := resp.Header.Get(k); v != "" {
			dst.Set(k, v)
		}
	}
	if resp.StatusCode == http.StatusPartialContent || resp.Header.Get("Content-Range") != "" {
		dst.Set("Accept-Ranges", "bytes")
	}
	dst.Set("X-Content-Type-Options", "nosniff")
}

// writeProbe answers a size probe: upstream headers only, with the length
// surfaced in X-Content-Length.
func writeProbe(w http.ResponseWriter, resp *http.Response) {
	h := w.Header()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}
	if ar := resp.Header.Get("Accept-Ranges"); ar != "" {
		h.Set("Accept-Ranges", ar)
	}
	size := resp.ContentLength
	if size < 0 {
		if v, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			size = v
		}
	}
	if size >= 0 {
		h.Set("X-Content-Length", strconv.FormatInt(size, 10))
	}
	h.Set("Access-Control-Expose-Headers", "X-Content-Length")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(resp.StatusCode)
}
