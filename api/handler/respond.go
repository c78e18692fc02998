package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/mediagate/models"
)

// asMediaError unwraps err to a *models.MediaError, wrapping unknown errors
// as INTERNAL_ERROR.
func asMediaError(err error) *models.MediaError {
	var me *models.MediaError
	if errors.As(err, &me) {
		return me
	}
	return models.NewMediaError(models.ErrCodeInternal, "internal error", err)
}

// respondError writes err as a structured JSON error with the mapped status.
func respondError(c *gin.Context, err error) {
	me := asMediaError(err)
	status := me.HTTPStatus()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "code", me.Code, "error", err)
	}
	c.JSON(status, models.ErrorResponse{Success: false, Error: me.ToDetail()})
}

func invalidInput(c *gin.Context, msg string) {
	respondError(c, models.NewMediaError(models.ErrCodeInvalidInput, msg, nil))
}
