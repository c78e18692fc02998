// Package apiclient is the outbound HTTP client every upstream call goes
// through. It bounds each attempt with a timeout, retries 5xx responses and
// transient connection failures with exponential backoff, and short-circuits
// hosts that were recently unreachable.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/use-agent/mediagate/metrics"
)

// Config holds client-wide defaults.
type Config struct {
	Timeout     time.Duration // per attempt, default: 30s
	Retries     int           // extra attempts after the first, negative: default of 2
	BaseBackoff time.Duration // doubled per retry, default: 1s
	MaxBackoff  time.Duration // cap on a single delay, default: 30s
	OfflineTTL  time.Duration // default: 10s
	MaxBody     int64         // buffered body cap for Fetch, default: 10MB
	ProxyURL    string
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	c.MaxBackoff = max(c.MaxBackoff, c.BaseBackoff)
	if c.OfflineTTL <= 0 {
		c.OfflineTTL = 10 * time.Second
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 10 << 20
	}
}

// Auth carries upstream credentials. Values are never logged.
type Auth struct {
	Cookie string
	Bearer string
}

// Options controls a single Fetch or Open call.
type Options struct {
	Method string // default: GET
	Header http.Header
	Body   []byte

	// Timeout bounds each attempt. Zero uses the client default.
	Timeout time.Duration
	// FirstAttemptTimeout, when set, replaces Timeout for the first attempt
	// so a dead backend fails fast.
	FirstAttemptTimeout time.Duration
	// Retries is the number of extra attempts. Zero uses the client
	// default; negative disables retries.
	Retries int

	Auth Auth

	// CheckRedirect, when set, is consulted for every redirect hop. An
	// error with a Permanent() bool method returning true ends the call
	// without retry.
	CheckRedirect func(req *http.Request, via []*http.Request) error
}

// Response is a fully buffered upstream response.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	URL       string // final URL after redirects
	Truncated bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the fingerprinting transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithClock replaces time.Now for the offline short-circuit.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is safe for concurrent use.
type Client struct {
	http  *http.Client
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	offline sync.Map // host -> time.Time (short-circuit until)
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.setDefaults()
	c := &Client{
		cfg:   cfg,
		sleep: sleepCtx,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		t, err := NewTransport(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		c.http = &http.Client{
			Transport: t,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errAttemptTimeout is the cancel cause of an attempt that ran out of time.
var errAttemptTimeout = errors.New("attempt timed out")

// Fetch performs a request and buffers the decoded body. Non-2xx responses
// are returned as *APIError.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("apiclient: invalid url %q", rawURL)
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	hc := c.client(opts)

	var out *Response
	err = c.run(ctx, u, opts, func(ctx context.Context, timeout time.Duration) error {
		actx, cancel := context.WithTimeoutCause(ctx, timeout, errAttemptTimeout)
		defer cancel()

		var body io.Reader
		if opts.Body != nil {
			body = bytes.NewReader(opts.Body)
		}
		req, err := http.NewRequestWithContext(actx, method, u.String(), body)
		if err != nil {
			return fmt.Errorf("apiclient: build request: %w", err)
		}
		for k, vs := range opts.Header {
			req.Header[k] = append([]string(nil), vs...)
		}
		if req.Header.Get("Accept-Encoding") == "" {
			req.Header.Set("Accept-Encoding", acceptEncoding)
		}
		applyAuth(req.Header, opts.Auth)

		resp, err := hc.Do(req)
		if err != nil {
			return attemptErr(actx, err)
		}
		defer resp.Body.Close()

		data, truncated, err := c.readBody(resp)
		if err != nil {
			return attemptErr(actx, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if len(data) > maxErrorBody {
				data = data[:maxErrorBody]
			}
			return &APIError{URL: u.String(), Status: resp.StatusCode, Body: data}
		}
		out = &Response{
			Status:    resp.StatusCode,
			Header:    resp.Header,
			Body:      data,
			URL:       resp.Request.URL.String(),
			Truncated: truncated,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, bool, error) {
	r, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxBody+1))
	if err != nil {
		return nil, false, fmt.Errorf("apiclient: read body: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxBody {
		return data[:c.cfg.MaxBody], true, nil
	}
	return data, false, nil
}

// Open performs req and returns the unbuffered response for streaming.
// The attempt timeout covers time to response headers only; closing the
// body cancels the upstream request. Responses below 500 are returned as
// they are. When every attempt returned 5xx, the last such response is
// returned so the caller can pass it through.
func (c *Client) Open(ctx context.Context, req *http.Request, opts Options) (*http.Response, error) {
	if req.URL == nil || req.URL.Host == "" {
		return nil, fmt.Errorf("apiclient: request has no host")
	}
	hc := c.client(opts)

	var last *http.Response
	err := c.run(ctx, req.URL, opts, func(ctx context.Context, timeout time.Duration) error {
		if last != nil {
			last.Body.Close()
			last = nil
		}
		actx, cancel := context.WithCancelCause(ctx)
		timer := time.AfterFunc(timeout, func() { cancel(errAttemptTimeout) })

		areq := req.Clone(actx)
		applyAuth(areq.Header, opts.Auth)
		resp, err := hc.Do(areq)
		stopped := timer.Stop()
		if err != nil {
			cancel(nil)
			return attemptErr(actx, err)
		}
		if !stopped {
			resp.Body.Close()
			cancel(nil)
			return errAttemptTimeout
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: func() { cancel(nil) }}
		last = resp
		if resp.StatusCode >= 500 {
			return &APIError{URL: req.URL.String(), Status: resp.StatusCode}
		}
		return nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && last != nil && last.StatusCode == apiErr.Status {
			return last, nil
		}
		if last != nil {
			last.Body.Close()
		}
		return nil, err
	}
	return last, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel func()
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// IsOffline reports whether host is inside its offline short-circuit window.
func (c *Client) IsOffline(host string) bool {
	v, ok := c.offline.Load(host)
	if !ok {
		return false
	}
	if !c.now().Before(v.(time.Time)) {
		c.offline.Delete(host)
		return false
	}
	return true
}

func (c *Client) markOffline(host string) {
	c.offline.Store(host, c.now().Add(c.cfg.OfflineTTL))
}

// run drives the attempt loop for one call. Attempts are strictly
// sequential.
func (c *Client) run(ctx context.Context, u *url.URL, opts Options, try func(ctx context.Context, timeout time.Duration) error) error {
	host := u.Hostname()
	label := hostLabel(host)
	retries := opts.Retries
	switch {
	case retries == 0:
		retries = c.cfg.Retries
	case retries < 0:
		retries = 0
	}

	schedule := c.newSchedule()
	for attempt := 0; ; attempt++ {
		if c.IsOffline(host) {
			metrics.UpstreamAttempts.WithLabelValues(label, "short_circuit").Inc()
			return &OfflineError{Host: host, ShortCircuit: true}
		}

		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = c.cfg.Timeout
		}
		if attempt == 0 && opts.FirstAttemptTimeout > 0 {
			timeout = opts.FirstAttemptTimeout
		}

		err := try(ctx, timeout)
		if err == nil {
			metrics.UpstreamAttempts.WithLabelValues(label, "ok").Inc()
			return nil
		}

		k := classify(ctx, err)
		metrics.UpstreamAttempts.WithLabelValues(label, k.String()).Inc()
		switch k {
		case kindCanceled, kindClient, kindRejected:
			return err
		case kindTimeout:
			return &TimeoutError{URL: u.String(), Timeout: timeout, Err: err}
		case kindOffline:
			c.markOffline(host)
			slog.Warn("apiclient: upstream offline", "host", host, "error", err)
			return &OfflineError{Host: host, Err: err}
		}

		if attempt >= retries {
			if k == kindTransient {
				c.markOffline(host)
				return &OfflineError{Host: host, Err: err}
			}
			return err
		}
		delay := schedule.NextBackOff()
		slog.Debug("apiclient: retrying",
			"host", host,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// newSchedule returns a fresh delay schedule for one call: BaseBackoff doubling
// per retry up to MaxBackoff, without jitter.
func (c *Client) newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) client(opts Options) *http.Client {
	if opts.CheckRedirect == nil {
		return c.http
	}
	hc := *c.http
	hc.CheckRedirect = opts.CheckRedirect
	return &hc
}

func applyAuth(h http.Header, a Auth) {
	if a.Cookie != "" {
		h.Set("Cookie", a.Cookie)
	}
	if a.Bearer != "" {
		h.Set("Authorization", "Bearer "+a.Bearer)
	}
}

// attemptErr tags err when the attempt context ran out of time.
func attemptErr(actx context.Context, err error) error {
	if errors.Is(context.Cause(actx), errAttemptTimeout) {
		return fmt.Errorf("%w: %w", errAttemptTimeout, err)
	}
	return err
}

type kind int

const (
	kindTransient kind = iota
	kindServer
	kindClient
	kindTimeout
	kindOffline
	kindCanceled
	kindRejected
)

func (k kind) String() string {
	switch k {
	case kindServer:
		return "http_5xx"
	case kindClient:
		return "http_4xx"
	case kindTimeout:
		return "timeout"
	case kindOffline:
		return "offline"
	case kindCanceled:
		return "canceled"
	case kindRejected:
		return "rejected"
	default:
		return "transient"
	}
}

func classify(ctx context.Context, err error) kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return kindServer
		}
		return kindClient
	}
	var perm interface{ Permanent() bool }
	if errors.As(err, &perm) && perm.Permanent() {
		return kindRejected
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return kindCanceled
	}
	if errors.Is(err, errAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return kindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return kindOffline
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return kindOffline
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return kindTimeout
	}
	return kindTransient
}

// hostLabel collapses a host to its last two labels for metric labels.
func hostLabel(host string) string {
	if net.ParseIP(host) != nil {
		return "ip"
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
