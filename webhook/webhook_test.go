package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/mediagate/models"
)

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
}

func (c *capture) handler(status func(n int) int) http.HandlerFunc {
	var n atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.sigs = append(c.sigs, r.Header.Get(SignatureHeader))
		c.mu.Unlock()
		w.WriteHeader(status(int(n.Add(1))))
	}
}

func TestCookieStatusChangedSignedWithoutValue(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	n := New(srv.URL, "s3cret").WithDelays(0)
	n.CookieStatusChanged(models.CookieRecord{
		ID:            "c1",
		Platform:      models.PlatformInstagram,
		Tier:          models.TierPrivate,
		Value:         "sessionid=topsecret",
		Status:        models.CookieCooldown,
		ErrorCount:    3,
		CooldownUntil: time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC),
	}, "error threshold reached")
	n.Wait(5 * time.Second)

	require.Len(t, c.bodies, 1)
	body := c.bodies[0]
	assert.NotContains(t, string(body), "topsecret")
	assert.Equal(t, Sign("s3cret", body), c.sigs[0])
	assert.True(t, strings.HasPrefix(c.sigs[0], "sha256="))

	var ev struct {
		Type string      `json:"type"`
		Data CookieEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &ev))
	assert.Equal(t, "cookie.cooldown", ev.Type)
	assert.Equal(t, "c1", ev.Data.CookieID)
	assert.Equal(t, "error threshold reached", ev.Data.Reason)
	require.NotNil(t, ev.Data.CooldownUntil)
}

func TestDeliverAsyncRetries(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(func(n int) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusNoContent
	}))
	defer srv.Close()

	n := New(srv.URL, "").WithDelays(0, time.Millisecond, time.Millisecond, time.Millisecond)
	n.DeliverAsync(&Event{ID: "e", Type: "cookie.expired"})
	n.Wait(5 * time.Second)

	assert.Len(t, c.bodies, 3)
	assert.Empty(t, c.sigs[0])
}

func TestDeliverReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New(srv.URL, "").Deliver(t.Context(), &Event{Type: "cookie.expired"})
	assert.ErrorContains(t, err, "status 500")
}
