package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/use-agent/mediagate/config"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("api_key"))
	})
	return r
}

func serve(r *gin.Engine, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth([]string{"alpha", "beta"}))

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", http.Header{"X-Api-Key": {"gamma"}}, http.StatusUnauthorized},
		{"header", http.Header{"X-Api-Key": {"alpha"}}, http.StatusOK},
		{"bearer", http.Header{"Authorization": {"Bearer beta"}}, http.StatusOK},
		{"basic", http.Header{"Authorization": {"Basic beta"}}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(r, tt.header).Code)
		})
	}
}

func TestAuthWithoutKeysRefusesEverything(t *testing.T) {
	r := newEngine(Auth(nil))
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.Header{"X-Api-Key": {"anything"}}).Code)

	r = newEngine(Auth([]string{""}))
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.Header{"X-Api-Key": {""}}).Code)
}

func TestRateLimit(t *testing.T) {
	r := newEngine(Auth([]string{"alpha", "beta"}), RateLimit(t.Context(), config.RateLimitConfig{
		RequestsPerSecond: 0.01,
		Burst:             2,
	}))
	alpha := http.Header{"X-Api-Key": {"alpha"}}

	assert.Equal(t, http.StatusOK, serve(r, alpha).Code)
	assert.Equal(t, http.StatusOK, serve(r, alpha).Code)
	w := serve(r, alpha)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(r, http.Header{"X-Api-Key": {"beta"}}).Code, "buckets are per key")
}

func TestObserveRequestID(t *testing.T) {
	r := newEngine(Observe())

	w := serve(r, nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	w = serve(r, http.Header{RequestIDHeader: {"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
