package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/mediagate/apiclient"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/relay"
)

// Proxy returns a handler for GET|HEAD /api/v1/proxy.
//
// Query parameters:
//
//	url       target media URL (required, allow-listed CDN only)
//	filename  suggested download name
//	platform  platform hint for CDNs shared across platforms
//	inline    "1" or "true" to display instead of download
//	head      "1" or "true" for headers and size only (same as HEAD)
//	probe     alias of head
func Proxy(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := relay.Params{
			URL:      c.Query("url"),
			Filename: c.Query("filename"),
			Platform: models.Platform(c.Query("platform")),
			Inline:   queryBool(c, "inline"),
			Head:     queryBool(c, "head") || queryBool(c, "probe") || c.Request.Method == http.MethodHead,
		}
		if p.Platform != "" && !p.Platform.Valid() {
			invalidInput(c, "unknown platform")
			return
		}

		err := rl.Serve(c.Request.Context(), c.Writer, c.Request, p)
		if err == nil || c.Writer.Written() {
			return
		}
		respondError(c, proxyError(err))
	}
}

// proxyError maps relay and upstream failures onto media error codes.
func proxyError(err error) error {
	var (
		rej        *relay.Rejection
		timeoutErr *apiclient.TimeoutError
		offlineErr *apiclient.OfflineError
	)
	switch {
	case errors.As(err, &rej) && rej.Reason == relay.ReasonMissing:
		return models.NewMediaError(models.ErrCodeInvalidInput, "url is required", err)
	case errors.As(err, &rej):
		return models.NewMediaError(models.ErrCodeSSRFRejected, "url is not an allowed media host", err)
	case errors.As(err, &timeoutErr):
		return models.NewMediaError(models.ErrCodeUpstreamTimeout, "media host timed out", err)
	case errors.As(err, &offlineErr):
		return models.NewMediaError(models.ErrCodeUpstreamOffline, "media host is unreachable", err)
	default:
		return models.NewMediaError(models.ErrCodeUpstreamError, "media fetch failed", err)
	}
}

func queryBool(c *gin.Context, key string) bool {
	b, _ := strconv.ParseBool(c.Query(key))
	return b
}
