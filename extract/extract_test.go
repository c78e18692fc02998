package extract

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/mediagate/apiclient"
	"github.com/use-agent/mediagate/cache"
	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/identity"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/pacing"
)

const videoPage = `<html><head>
<title>fallback title</title>
<meta property="og:title" content="A clip">
<meta name="author" content="someone">
<meta property="og:image" content="https://p16-sign.tiktokcdn.com/thumb.jpeg">
<meta property="og:video" content="https://v16-webapp.tiktokcdn.com/video.mp4?a=1&amp;b=2">
<meta property="og:video:type" content="video/mp4">
<meta property="og:video:height" content="1080">
<meta property="og:video" content="https://v16-webapp.tiktokcdn.com/video_540.mp4">
<meta property="og:video:height" content="540">
</head><body></body></html>`

const carouselPage = `<html><head>
<meta property="og:image" content="https://scontent.cdninstagram.com/a.jpg">
<meta property="og:image" content="https://scontent.cdninstagram.com/b.jpg">
<meta property="og:image" content="https://scontent.cdninstagram.com/a.jpg">
</head><body><title>Post</title></body></html>`

const loginPage = `<html><head><title>Log in</title></head><body>login</body></html>`

type call struct {
	url    string
	cookie string
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []call
	fn    func(n int, url string, opts apiclient.Options) (*apiclient.Response, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, opts apiclient.Options) (*apiclient.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{url: url, cookie: opts.Auth.Cookie})
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(n, url, opts)
}

func (f *fakeFetcher) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func page(body string) func(int, string, apiclient.Options) (*apiclient.Response, error) {
	return func(_ int, url string, _ apiclient.Options) (*apiclient.Response, error) {
		return &apiclient.Response{Status: 200, URL: url, Header: http.Header{}, Body: []byte(body)}, nil
	}
}

func status(code int) error {
	return &apiclient.APIError{URL: "https://upstream", Status: code}
}

type fixture struct {
	svc     *Service
	fetcher *fakeFetcher
	tracker *pacing.Tracker
	cookies *cookiepool.Manager
}

func newFixture(t *testing.T, fn func(int, string, apiclient.Options) (*apiclient.Response, error), cfg Config, recs ...models.CookieRecord) *fixture {
	t.Helper()
	f := &fakeFetcher{fn: fn}
	tracker := pacing.NewTracker(pacing.DefaultConfig(), nil)
	cookies := cookiepool.NewManager(cookiepool.NewMemoryStore(recs...), nil)
	results := cache.New(100, 0)
	t.Cleanup(results.Close)
	svc := NewService(Deps{
		Fetcher:    f,
		Identities: identity.NewPool(nil, nil),
		Tracker:    tracker,
		Cookies:    cookies,
		Cache:      results,
	}, cfg)
	return &fixture{svc: svc, fetcher: f, tracker: tracker, cookies: cookies}
}

func igCookie(id string) models.CookieRecord {
	return models.CookieRecord{
		ID:        id,
		Platform:  models.PlatformInstagram,
		Tier:      models.TierPublic,
		Value:     "sessionid=" + id,
		Status:    models.CookieHealthy,
		Enabled:   true,
		CreatedAt: time.Now().Add(-time.Hour),
	}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var me *models.MediaError
	require.ErrorAs(t, err, &me)
	return me.Code
}

func TestMetaExtractorVideo(t *testing.T) {
	res, err := MetaExtractor{}.Extract(context.Background(), &Page{Platform: models.PlatformTikTok, Body: []byte(videoPage)})
	require.NoError(t, err)

	assert.Equal(t, "A clip", res.Title)
	assert.Equal(t, "someone", res.Author)
	assert.Equal(t, "https://p16-sign.tiktokcdn.com/thumb.jpeg", res.Thumbnail)
	require.Len(t, res.Formats, 2)
	assert.Equal(t, "https://v16-webapp.tiktokcdn.com/video.mp4?a=1&b=2", res.Formats[0].URL)
	assert.Equal(t, "1080p", res.Formats[0].Quality)
	assert.Equal(t, "video/mp4", res.Formats[0].MimeType)
	assert.Equal(t, "540p", res.Formats[1].Quality)
}

func TestMetaExtractorCarousel(t *testing.T) {
	res, err := MetaExtractor{}.Extract(context.Background(), &Page{Body: []byte(carouselPage)})
	require.NoError(t, err)

	require.Len(t, res.Formats, 2)
	assert.Equal(t, models.MediaImage, res.Formats[0].Type)
	assert.Equal(t, "1", res.Formats[0].ItemID)
	assert.Equal(t, "2", res.Formats[1].ItemID)
}

func TestMetaExtractorInlineVideo(t *testing.T) {
	body := `<html><head><title>t</title></head><body>
<video src="//video.twimg.com/a.mp4"><source src="/b.m3u8" type="application/x-mpegURL"></video>
</body></html>`
	res, err := MetaExtractor{}.Extract(context.Background(), &Page{Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, "t", res.Title)
	require.Len(t, res.Formats, 2)
	assert.Equal(t, "//video.twimg.com/a.mp4", res.Formats[0].URL)
	assert.Equal(t, "application/x-mpegURL", res.Formats[1].MimeType)
}

func TestRegistryFallback(t *testing.T) {
	custom := ExtractorFunc(func(context.Context, *Page) (*models.ExtractResult, error) { return nil, nil })
	r := NewRegistry(nil)
	r.Register(models.PlatformYouTube, custom)

	assert.IsType(t, MetaExtractor{}, r.For(models.PlatformTikTok))
	assert.NotNil(t, r.For(models.PlatformYouTube))
}

func TestExtractPipeline(t *testing.T) {
	fx := newFixture(t, page(videoPage), Config{})

	res, err := fx.svc.Extract(context.Background(), "https://www.tiktok.com/@user/video/123/?is_from_webapp=1#x", Options{})
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, models.PlatformTikTok, res.Platform)
	assert.Equal(t, "https://tiktok.com/@user/video/123", res.SourceURL)
	assert.False(t, res.UsedCookie)
	require.Len(t, res.Formats, 2)
	assert.Equal(t, models.MediaVideo, res.Formats[0].Type)

	calls := fx.fetcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://www.tiktok.com/@user/video/123/?is_from_webapp=1", calls[0].url)
	assert.Equal(t, pacing.PhaseActive, fx.tracker.Snapshot(models.PlatformTikTok).Phase)
}

func TestExtractFetchesCallerHost(t *testing.T) {
	fx := newFixture(t, page(videoPage), Config{})
	ctx := context.Background()

	res, err := fx.svc.Extract(ctx, "https://m.weibo.cn/status/123", Options{})
	require.NoError(t, err)
	assert.Equal(t, models.PlatformWeibo, res.Platform)

	calls := fx.fetcher.Calls()
	require.Len(t, calls, 1)
	u, err := url.Parse(calls[0].url)
	require.NoError(t, err)
	assert.Equal(t, "m.weibo.cn", u.Host)

	target, err := fx.svc.Resolve("https://m.weibo.cn/status/123#c")
	require.NoError(t, err)
	assert.Equal(t, "https://m.weibo.cn/status/123", target.Source)
	assert.Equal(t, "https://weibo.cn/status/123", target.URL)
}

func TestExtractCached(t *testing.T) {
	fx := newFixture(t, page(videoPage), Config{})
	ctx := context.Background()

	_, err := fx.svc.Extract(ctx, "https://www.tiktok.com/@user/video/123", Options{})
	require.NoError(t, err)
	res, err := fx.svc.Extract(ctx, "https://tiktok.com/@user/video/123?utm_source=x", Options{})
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Len(t, fx.fetcher.Calls(), 1)

	res, err = fx.svc.Extract(ctx, "https://tiktok.com/@user/video/123", Options{SkipCache: true})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, fx.fetcher.Calls(), 2)
}

func TestExtractRejectsInput(t *testing.T) {
	fx := newFixture(t, page(videoPage), Config{Disabled: []models.Platform{models.PlatformYouTube}})
	ctx := context.Background()

	tests := []struct {
		url  string
		code string
	}{
		{"", models.ErrCodeInvalidInput},
		{"not a url", models.ErrCodeInvalidInput},
		{"ftp://tiktok.com/x", models.ErrCodeInvalidInput},
		{"https://example.com/video/1", models.ErrCodeUnsupportedPlatform},
		{"https://youtube.com/watch?v=abc", models.ErrCodePlatformDisabled},
	}
	for _, tt := range tests {
		_, err := fx.svc.Extract(ctx, tt.url, Options{})
		assert.Equal(t, tt.code, codeOf(t, err), tt.url)
	}
	assert.Empty(t, fx.fetcher.Calls())
}

func TestExtractMaintenance(t *testing.T) {
	fx := newFixture(t, page(videoPage), Config{})
	fx.svc.SetMaintenance(true)

	_, err := fx.svc.Extract(context.Background(), "https://tiktok.com/@u/video/1", Options{})
	assert.Equal(t, models.ErrCodeMaintenance, codeOf(t, err))

	fx.svc.SetMaintenance(false)
	_, err = fx.svc.Extract(context.Background(), "https://tiktok.com/@u/video/1", Options{})
	assert.NoError(t, err)
}

func TestExtractThrottledSkipsFetch(t *testing.T) {
	fx := newFixture(t, page(videoPage), Config{})
	fx.tracker.MarkRateLimited(models.PlatformTikTok)

	_, err := fx.svc.Extract(context.Background(), "https://tiktok.com/@u/video/1", Options{})
	assert.Equal(t, models.ErrCodePlatformThrottled, codeOf(t, err))
	assert.Empty(t, fx.fetcher.Calls())
}

func TestExtractUpstream429StartsCooldown(t *testing.T) {
	fx := newFixture(t, func(int, string, apiclient.Options) (*apiclient.Response, error) {
		return nil, status(429)
	}, Config{})

	_, err := fx.svc.Extract(context.Background(), "https://tiktok.com/@u/video/1", Options{})
	assert.Equal(t, models.ErrCodePlatformThrottled, codeOf(t, err))
	assert.True(t, fx.tracker.ShouldThrottle(models.PlatformTikTok))
}

func TestExtractGatedUsesCookie(t *testing.T) {
	fx := newFixture(t, func(n int, url string, opts apiclient.Options) (*apiclient.Response, error) {
		if opts.Auth.Cookie == "" {
			return nil, status(403)
		}
		return page(carouselPage)(n, url, opts)
	}, Config{}, igCookie("c1"))

	res, err := fx.svc.Extract(context.Background(), "https://www.instagram.com/p/abc/?igsh=xyz", Options{AllowCookie: true})
	require.NoError(t, err)
	assert.True(t, res.UsedCookie)
	assert.Len(t, res.Formats, 2)

	calls := fx.fetcher.Calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].cookie)
	assert.Equal(t, "sessionid=c1", calls[1].cookie)

	views, err := fx.cookies.List(context.Background(), models.PlatformInstagram)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, int64(1), views[0].SuccessCount)
	assert.Equal(t, int64(1), views[0].UseCount)
}

func TestExtractLoginWallWithoutMediaUsesCookie(t *testing.T) {
	fx := newFixture(t, func(n int, url string, opts apiclient.Options) (*apiclient.Response, error) {
		if opts.Auth.Cookie == "" {
			return page(loginPage)(n, url, opts)
		}
		return page(carouselPage)(n, url, opts)
	}, Config{}, igCookie("c1"))

	res, err := fx.svc.Extract(context.Background(), "https://instagram.com/p/abc", Options{AllowCookie: true})
	require.NoError(t, err)
	assert.True(t, res.UsedCookie)
}

func TestExtractRejectedCookieExpires(t *testing.T) {
	fx := newFixture(t, func(int, string, apiclient.Options) (*apiclient.Response, error) {
		return nil, status(401)
	}, Config{}, igCookie("c1"))

	_, err := fx.svc.Extract(context.Background(), "https://instagram.com/p/abc", Options{AllowCookie: true})
	assert.Equal(t, models.ErrCodeNoMedia, codeOf(t, err))

	views, err := fx.cookies.List(context.Background(), models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, models.CookieExpired, views[0].Status)
}

func TestExtractNoCookieWithoutPermission(t *testing.T) {
	fx := newFixture(t, func(int, string, apiclient.Options) (*apiclient.Response, error) {
		return nil, status(403)
	}, Config{}, igCookie("c1"))

	_, err := fx.svc.Extract(context.Background(), "https://instagram.com/p/abc", Options{})
	assert.Equal(t, models.ErrCodeNoMedia, codeOf(t, err))
	assert.Len(t, fx.fetcher.Calls(), 1)
}

func TestExtractUpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"timeout", &apiclient.TimeoutError{URL: "u", Timeout: time.Second, Err: context.DeadlineExceeded}, models.ErrCodeUpstreamTimeout},
		{"offline", &apiclient.OfflineError{Host: "tiktok.com", Err: errors.New("refused")}, models.ErrCodeUpstreamOffline},
		{"server", status(503), models.ErrCodeUpstreamError},
		{"not found", status(404), models.ErrCodeNotFound},
		{"other", errors.New("boom"), models.ErrCodeUpstreamError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, func(int, string, apiclient.Options) (*apiclient.Response, error) {
				return nil, tt.err
			}, Config{})
			_, err := fx.svc.Extract(context.Background(), "https://tiktok.com/@u/video/1", Options{})
			assert.Equal(t, tt.code, codeOf(t, err))
		})
	}
}

func TestExtractNoMedia(t *testing.T) {
	fx := newFixture(t, page(`<html><head><title>x</title></head></html>`), Config{})
	_, err := fx.svc.Extract(context.Background(), "https://tiktok.com/@u/video/1", Options{})
	assert.Equal(t, models.ErrCodeNoMedia, codeOf(t, err))
}

func TestExtractCoalescesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	var entered atomic.Int32
	fx := newFixture(t, func(n int, url string, opts apiclient.Options) (*apiclient.Response, error) {
		entered.Add(1)
		<-release
		return page(videoPage)(n, url, opts)
	}, Config{CacheTTL: -1})

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fx.svc.Extract(context.Background(), "https://tiktok.com/@u/video/1", Options{})
			if err == nil {
				results[i] = res
			}
		}()
	}
	require.Eventually(t, func() bool { return entered.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Len(t, fx.fetcher.Calls(), 1)
	for _, r := range results {
		require.NotNil(t, r)
		assert.Len(t, r.Formats, 2)
	}
	results[0].Formats[0].URL = "mutated"
	assert.NotEqual(t, "mutated", results[1].Formats[0].URL)
}

func TestExtractCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fx := newFixture(t, func(n int, url string, opts apiclient.Options) (*apiclient.Response, error) {
		<-release
		return page(videoPage)(n, url, opts)
	}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fx.svc.Extract(ctx, "https://tiktok.com/@u/video/1", Options{})
	assert.Equal(t, models.ErrCodeUpstreamTimeout, codeOf(t, err))
}
