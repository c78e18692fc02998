package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/mediagate/cookiepool"
	"github.com/use-agent/mediagate/models"
)

// CookieStatus returns a handler for GET /api/status/cookies. Only
// per-platform aggregates are exposed.
func CookieStatus(cookies *cookiepool.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.CookieStatusResponse{
			Platforms: cookies.Health(c.Request.Context()),
		})
	}
}
