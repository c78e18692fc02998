package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/mediagate/config"
	"github.com/use-agent/mediagate/metrics"
	"github.com/use-agent/mediagate/models"
)

const (
	visitorIdle  = time.Hour
	visitorSweep = 5 * time.Minute
)

// visitors holds one token bucket per caller identity.
type visitors struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	seen    map[string]time.Time
}

func newVisitors(cfg config.RateLimitConfig) *visitors {
	return &visitors{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		buckets: make(map[string]*rate.Limiter),
		seen:    make(map[string]time.Time),
	}
}

// wait reserves a token for id and returns how long the caller would have
// to wait for it. A non-zero wait leaves the bucket untouched.
func (v *visitors) wait(id string, now time.Time) time.Duration {
	v.mu.Lock()
	b, ok := v.buckets[id]
	if !ok {
		b = rate.NewLimiter(v.limit, v.burst)
		v.buckets[id] = b
	}
	v.seen[id] = now
	v.mu.Unlock()

	r := b.ReserveN(now, 1)
	if !r.OK() {
		return visitorIdle
	}
	d := r.DelayFrom(now)
	if d > 0 {
		r.CancelAt(now)
	}
	return d
}

func (v *visitors) evictIdle(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, at := range v.seen {
		if now.Sub(at) > visitorIdle {
			delete(v.seen, id)
			delete(v.buckets, id)
		}
	}
}

// RateLimit throttles the admin surface with a token bucket per API key,
// or per client IP when no key was authenticated. Idle buckets are evicted
// until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	v := newVisitors(cfg)

	go func() {
		t := time.NewTicker(visitorSweep)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				v.evictIdle(now)
			}
		}
	}()

	return func(c *gin.Context) {
		id := c.GetString("api_key")
		if id == "" {
			id = "ip:" + c.ClientIP()
		}

		if d := v.wait(id, time.Now()); d > 0 {
			metrics.GuestRejections.WithLabelValues("admin").Inc()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "admin rate limit exceeded",
				},
			})
			return
		}
		c.Next()
	}
}
