package handler

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/mediagate/extract"
	"github.com/use-agent/mediagate/guest"
	"github.com/use-agent/mediagate/metrics"
	"github.com/use-agent/mediagate/models"
)

// Playground returns a handler for GET|POST /api/playground.
//
// Every response, success or failure, carries the caller's quota in
// rateLimit. Input is validated before quota is charged, and a URL the
// caller already looked up in the current window is free.
func Playground(svc *extract.Service, lim *guest.Limiter) gin.HandlerFunc {
	return guestExtract(svc, lim)
}

// Legacy returns a handler for GET|POST /api/extract, the compatibility
// surface for older clients. It shares the playground flow with its own
// quota and also reports the quota in X-RateLimit-* headers.
func Legacy(svc *extract.Service, lim *guest.Limiter) gin.HandlerFunc {
	inner := guestExtract(svc, lim)
	return func(c *gin.Context) {
		c.Set(legacyKey, true)
		inner(c)
	}
}

const legacyKey = "legacy_surface"

func guestExtract(svc *extract.Service, lim *guest.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := c.ClientIP()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.PlaygroundRequest
		if c.Request.Method == http.MethodPost {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondGuest(c, lim, ip, nil, models.NewMediaError(models.ErrCodeInvalidInput, "body must be JSON with a url field", err))
				return
			}
		} else {
			req.URL = c.Query("url")
		}

		// ── 2. Validate before charging quota ───────────────────────
		target, err := svc.Resolve(req.URL)
		if err != nil {
			respondGuest(c, lim, ip, nil, err)
			return
		}
		if err := svc.Available(target.Platform); err != nil {
			respondGuest(c, lim, ip, nil, err)
			return
		}

		// ── 3. Quota ────────────────────────────────────────────────
		quota, err := lim.Check(ctx, ip, target.URL)
		if err != nil {
			respondGuest(c, lim, ip, nil, models.NewMediaError(models.ErrCodeInternal, "rate limiter unavailable", err))
			return
		}
		if !quota.Allowed {
			metrics.GuestRejections.WithLabelValues(lim.Name()).Inc()
			c.Header("Retry-After", strconv.Itoa(seconds(quota.ResetIn)))
			respondGuest(c, lim, ip, &quota, models.NewMediaError(models.ErrCodeRateLimited,
				"too many lookups, try again later", nil))
			return
		}

		// ── 4. Extract ──────────────────────────────────────────────
		res, err := svc.Extract(ctx, req.URL, extract.Options{Tier: models.TierPublic, AllowCookie: true})
		if err != nil {
			respondGuest(c, lim, ip, &quota, err)
			return
		}

		setQuotaHeaders(c, quota)
		c.JSON(http.StatusOK, models.PlaygroundResponse{
			Success:   true,
			Platform:  target.Platform,
			Data:      res.ExtractResult,
			Cached:    res.Cached,
			RateLimit: envelope(quota),
		})
	}
}

// respondGuest writes a failed guest response. When quota is nil the
// current quota is peeked so the envelope is always present.
func respondGuest(c *gin.Context, lim *guest.Limiter, ip string, quota *guest.Result, err error) {
	if quota == nil {
		q, perr := lim.Peek(c.Request.Context(), ip)
		if perr != nil {
			q = guest.Result{Limit: lim.Limit(), Remaining: lim.Limit()}
		}
		quota = &q
	}
	me := asMediaError(err)
	setQuotaHeaders(c, *quota)
	c.JSON(me.HTTPStatus(), models.PlaygroundResponse{
		Success:   false,
		Error:     me.ToDetail(),
		RateLimit: envelope(*quota),
	})
}

func setQuotaHeaders(c *gin.Context, q guest.Result) {
	if !c.GetBool(legacyKey) {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(seconds(q.ResetIn)))
}

func envelope(q guest.Result) models.RateLimitInfo {
	return models.RateLimitInfo{
		Remaining: q.Remaining,
		Limit:     q.Limit,
		ResetIn:   seconds(q.ResetIn),
	}
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
