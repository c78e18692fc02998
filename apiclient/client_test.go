package apiclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) got() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) (*Client, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append([]Option{WithHTTPClient(&http.Client{}), WithSleep(rec.sleep)}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c, rec
}

func TestFetchRetriesServerErrorsWithDoublingBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, Config{})
	_, err := c.Fetch(context.Background(), srv.URL, Options{Retries: 3})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.EqualValues(t, 4, hits.Load(), "one attempt plus exactly three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.got())
	assert.False(t, c.IsOffline("127.0.0.1"), "5xx does not mark the host offline")
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "nope")
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, Config{})
	_, err := c.Fetch(context.Background(), srv.URL, Options{Retries: 3})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "nope", string(apiErr.Body))
	assert.EqualValues(t, 1, hits.Load())
	assert.Empty(t, sleeps.got())
}

func TestFetchRecoversAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, Config{Retries: -1})
	resp, err := c.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.got())
}

func TestConfigRetriesIsExact(t *testing.T) {
	for _, tc := range []struct {
		retries int
		hits    int32
	}{
		{0, 1},
		{1, 2},
		{-1, 3},
	} {
		t.Run(fmt.Sprint(tc.retries), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer srv.Close()

			c, sleeps := newTestClient(t, Config{Retries: tc.retries})
			_, err := c.Fetch(context.Background(), srv.URL, Options{})
			require.Error(t, err)
			assert.Equal(t, tc.hits, hits.Load())
			assert.Len(t, sleeps.got(), int(tc.hits)-1)
		})
	}
}

func TestBackoffIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, Config{BaseBackoff: time.Second, MaxBackoff: 3 * time.Second})
	_, err := c.Fetch(context.Background(), srv.URL, Options{Retries: 4})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, sleeps.got())
}

func TestFetchDecodesCompressedBodies(t *testing.T) {
	const payload = "<html><head><title>hi</title></head></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		switch r.URL.Query().Get("enc") {
		case "br":
			bw := brotli.NewWriter(&buf)
			bw.Write([]byte(payload))
			bw.Close()
		case "gzip":
			gw := gzip.NewWriter(&buf)
			gw.Write([]byte(payload))
			gw.Close()
		}
		w.Header().Set("Content-Encoding", r.URL.Query().Get("enc"))
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{})
	for _, enc := range []string{"br", "gzip"} {
		resp, err := c.Fetch(context.Background(), srv.URL+"?enc="+enc, Options{})
		require.NoError(t, err, enc)
		assert.Equal(t, payload, string(resp.Body), enc)
	}
}

func TestFetchTruncatesLargeBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("a"), 64))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{MaxBody: 16})
	resp, err := c.Fetch(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 16)
	assert.True(t, resp.Truncated)
}

func TestFetchTimeoutIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, Config{})
	_, err := c.Fetch(context.Background(), srv.URL, Options{
		Timeout:             time.Second,
		FirstAttemptTimeout: 50 * time.Millisecond,
		Retries:             3,
	})

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.EqualValues(t, 1, hits.Load())
	assert.Empty(t, sleeps.got())
}

func TestFetchOfflineShortCircuit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, sleeps := newTestClient(t, Config{}, WithClock(func() time.Time { return now }))
	target := "http://" + addr + "/api"

	_, err = c.Fetch(context.Background(), target, Options{Retries: 3})
	var oe *OfflineError
	require.ErrorAs(t, err, &oe)
	assert.False(t, oe.ShortCircuit)
	assert.Empty(t, sleeps.got(), "refused connections are not retried")
	assert.True(t, c.IsOffline("127.0.0.1"))

	_, err = c.Fetch(context.Background(), target, Options{})
	require.ErrorAs(t, err, &oe)
	assert.True(t, oe.ShortCircuit)

	now = now.Add(10 * time.Second)
	assert.False(t, c.IsOffline("127.0.0.1"))
	_, err = c.Fetch(context.Background(), target, Options{})
	require.ErrorAs(t, err, &oe)
	assert.False(t, oe.ShortCircuit, "a fresh probe is made once the window elapses")
}

func TestFetchAppliesAuthAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s|%s|%s|%s", r.Method, r.Header.Get("Cookie"), r.Header.Get("Authorization"), r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{})
	h := http.Header{}
	h.Set("User-Agent", "test-agent")
	resp, err := c.Fetch(context.Background(), srv.URL, Options{
		Method: http.MethodPost,
		Header: h,
		Body:   []byte("x=1"),
		Auth:   Auth{Cookie: "sid=abc", Bearer: "tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "POST|sid=abc|Bearer tok|test-agent", string(resp.Body))
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	for _, u := range []string{"", "ftp://example.com/x", "/relative"} {
		_, err := c.Fetch(context.Background(), u, Options{})
		assert.Error(t, err, u)
	}
}

type rejectedRedirect struct{}

func (rejectedRedirect) Error() string   { return "redirect rejected" }
func (rejectedRedirect) Permanent() bool { return true }

func TestPermanentRedirectErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "http://169.254.169.254/latest", http.StatusFound)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, Config{})
	_, err := c.Fetch(context.Background(), srv.URL, Options{
		CheckRedirect: func(*http.Request, []*http.Request) error { return rejectedRedirect{} },
	})
	assert.ErrorAs(t, err, new(rejectedRedirect))
	assert.EqualValues(t, 1, hits.Load())
	assert.Empty(t, sleeps.got())
}

func TestOpenPassesThroughLastServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "bad gateway")
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, Config{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Open(context.Background(), req, Options{Retries: 1})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "bad gateway", string(body))
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, []time.Duration{time.Second}, sleeps.got())
}

func TestOpenTimeoutCoversHeadersOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		io.WriteString(w, "frames")
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Open(context.Background(), req, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(body))
}

func TestOpenHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Open(context.Background(), req, Options{Timeout: 50 * time.Millisecond})
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestOpenCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := c.Open(ctx, req, Options{Timeout: 5 * time.Second})
	require.Error(t, err)
	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want kind
	}{
		{"server", &APIError{Status: 503}, kindServer},
		{"client", &APIError{Status: 429}, kindClient},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, kindOffline},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}, kindOffline},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, kindTransient},
		{"eof", io.ErrUnexpectedEOF, kindTransient},
		{"attempt timeout", fmt.Errorf("%w: x", errAttemptTimeout), kindTimeout},
		{"deadline", context.DeadlineExceeded, kindTimeout},
		{"permanent", rejectedRedirect{}, kindRejected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(ctx, tc.err))
		})
	}
}

func TestNewTransportProxy(t *testing.T) {
	tr, err := NewTransport("http://proxy.internal:3128")
	require.NoError(t, err)
	assert.NotNil(t, tr.Proxy)
	assert.Nil(t, tr.DialTLSContext)

	tr, err = NewTransport("")
	require.NoError(t, err)
	assert.NotNil(t, tr.DialTLSContext)

	_, err = NewTransport("::bad")
	assert.Error(t, err)
}

func TestHostLabel(t *testing.T) {
	assert.Equal(t, "googlevideo.com", hostLabel("rr3---sn-abc.googlevideo.com"))
	assert.Equal(t, "ip", hostLabel("127.0.0.1"))
	assert.Equal(t, "localhost", hostLabel("localhost"))
}
