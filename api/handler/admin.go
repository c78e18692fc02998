package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/extract"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/pacing"
)

// ListCookies returns a handler for GET /api/v1/admin/cookies. Values are
// masked. The optional platform query parameter filters the list.
func ListCookies(cookies *cookiepool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := models.Platform(c.Query("platform"))
		if p != "" && !p.Valid() {
			invalidInput(c, "unknown platform")
			return
		}
		views, err := cookies.List(c.Request.Context(), p)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "cookies": views})
	}
}

// AddCookie returns a handler for POST /api/v1/admin/cookies.
func AddCookie(cookies *cookiepool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AddCookieRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidInput(c, err.Error())
			return
		}
		view, err := cookies.Add(c.Request.Context(), cookiepool.NewCookie{
			Platform:       req.Platform,
			Tier:           req.Tier,
			Value:          req.Value,
			Label:          req.Label,
			MaxUsesPerHour: req.MaxUsesPerHour,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "cookie": view})
	}
}

// SetCookieEnabled returns a handler for PATCH /api/v1/admin/cookies/:id.
func SetCookieEnabled(cookies *cookiepool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SetCookieEnabledRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidInput(c, err.Error())
			return
		}
		view, err := cookies.SetEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "cookie": view})
	}
}

// DisableCookie returns a handler for POST /api/v1/admin/cookies/:id/disable.
// Disabling is permanent.
func DisableCookie(cookies *cookiepool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := cookies.Disable(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "cookie": view})
	}
}

// Pacing returns a handler for GET /api/v1/admin/pacing.
func Pacing(tracker *pacing.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := make(map[models.Platform]pacing.Snapshot, len(models.AllPlatforms))
		for _, p := range models.AllPlatforms {
			out[p] = tracker.Snapshot(p)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "platforms": out})
	}
}

// SetMaintenance returns a handler for PUT /api/v1/admin/maintenance.
func SetMaintenance(svc *extract.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.MaintenanceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidInput(c, err.Error())
			return
		}
		svc.SetMaintenance(*req.Enabled)
		slog.Warn("maintenance mode changed", "enabled", *req.Enabled, "client_ip", c.ClientIP())
		c.JSON(http.StatusOK, gin.H{"success": true, "maintenance": svc.Maintenance()})
	}
}
