package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/mediagate/api/handler"
	"github.com/use-agent/mediagate/api/middleware"
	"github.com/use-agent/mediagate/config"
	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/extract"
	"github.com/use-agent/mediagate/guest"
	"github.com/use-agent/mediagate/pacing"
	"github.com/use-agent/mediagate/relay"
)

// Deps are the services the HTTP surface routes to.
type Deps struct {
	Service    *extract.Service
	Relay      *relay.Relay
	Playground *guest.Limiter
	Legacy     *guest.Limiter
	Cookies    *cookiepool.Manager
	Tracker    *pacing.Tracker
	Version    string
}

// NewRouter creates a configured Gin engine with all routes and middleware.
// Background work owned by the router stops when ctx is done.
//
// Middleware chain:
//
//	Global:  Recovery → Observe (request id, slog, metrics)
//	Admin:   Auth (if enabled) → RateLimit
//
// Public endpoints carry their own quotas: the guest surfaces through the
// guest limiters, the proxy through its validator.
func NewRouter(ctx context.Context, d Deps, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		slog.Warn("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.Observe())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	playground := handler.Playground(d.Service, d.Playground)
	legacy := handler.Legacy(d.Service, d.Legacy)
	api.GET("/playground", playground)
	api.POST("/playground", playground)
	api.GET("/extract", legacy)
	api.POST("/extract", legacy)
	api.GET("/status/cookies", handler.CookieStatus(d.Cookies))

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(d.Service, d.Tracker, startTime, d.Version))
	proxy := handler.Proxy(d.Relay)
	v1.GET("/proxy", proxy)
	v1.HEAD("/proxy", proxy)

	admin := v1.Group("/admin")
	if cfg.Auth.Enabled {
		admin.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	admin.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	admin.GET("/cookies", handler.ListCookies(d.Cookies))
	admin.POST("/cookies", handler.AddCookie(d.Cookies))
	admin.PATCH("/cookies/:id", handler.SetCookieEnabled(d.Cookies))
	admin.POST("/cookies/:id/disable", handler.DisableCookie(d.Cookies))
	admin.GET("/pacing", handler.Pacing(d.Tracker))
	admin.PUT("/maintenance", handler.SetMaintenance(d.Service))

	return r
}
