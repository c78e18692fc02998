package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/mediagate/extract"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/pacing"
)

// Health returns a handler for GET /api/v1/health.
//
// Status degrades in maintenance mode or while any platform is cooling
// down.
func Health(svc *extract.Service, tracker *pacing.Tracker, startTime time.Time, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		phases := make(map[models.Platform]string, len(models.AllPlatforms))
		for _, p := range models.AllPlatforms {
			phase := tracker.Snapshot(p).Phase
			if svc.Disabled(p) {
				phases[p] = "disabled"
				continue
			}
			phases[p] = string(phase)
			if phase == pacing.PhaseCooldown {
				status = "degraded"
			}
		}
		if svc.Maintenance() {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Maintenance: svc.Maintenance(),
			Pacing:      phases,
			Version:     version,
		})
	}
}
