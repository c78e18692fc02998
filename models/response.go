package models

// RateLimitInfo is the quota envelope returned by the guest surfaces, on
// success and on failure alike.
type RateLimitInfo struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`

	// ResetIn is the number of seconds until the window resets.
	ResetIn int `json:"resetIn,omitempty"`
}

// PlaygroundResponse is the response for /api/playground.
type PlaygroundResponse struct {
	Success   bool           `json:"success"`
	Platform  Platform       `json:"platform,omitempty"`
	Data      *ExtractResult `json:"data,omitempty"`
	Cached    bool           `json:"cached,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
	RateLimit RateLimitInfo  `json:"rateLimit"`
}

// PlaygroundRequest is the POST body for /api/playground and /api/extract.
type PlaygroundRequest struct {
	URL string `json:"url" form:"url"`
}

// CookieStatusResponse is the response for GET /api/status/cookies.
type CookieStatusResponse struct {
	Platforms map[Platform]PlatformCookieHealth `json:"platforms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status      string              `json:"status"` // "healthy" or "degraded"
	Uptime      string              `json:"uptime"`
	Maintenance bool                `json:"maintenance"`
	Pacing      map[Platform]string `json:"pacing"`
	Version     string              `json:"version"`
}

// AddCookieRequest is the admin payload for creating a cookie record.
type AddCookieRequest struct {
	Platform       Platform   `json:"platform" binding:"required"`
	Tier           CookieTier `json:"tier" binding:"required,oneof=public private"`
	Value          string     `json:"value" binding:"required"`
	Label          string     `json:"label,omitempty"`
	MaxUsesPerHour int        `json:"max_uses_per_hour,omitempty" binding:"omitempty,min=0"`
}

// ErrorResponse is the body of failed requests outside the guest surfaces.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// SetCookieEnabledRequest is the admin payload for toggling a cookie.
type SetCookieEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// MaintenanceRequest is the admin payload for toggling maintenance mode.
type MaintenanceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
