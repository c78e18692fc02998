package models

import (
	"fmt"
	"net/http"
)

// Error codes used in API responses and internal error handling.
// They are stable and machine-readable; clients switch on them.
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	ErrCodePlatformDisabled    = "PLATFORM_DISABLED"
	ErrCodeMaintenance         = "MAINTENANCE"
	ErrCodeSSRFRejected        = "SSRF_REJECTED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodePlatformThrottled   = "PLATFORM_THROTTLED"
	ErrCodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamOffline     = "UPSTREAM_OFFLINE"
	ErrCodeUpstreamError       = "UPSTREAM_ERROR"
	ErrCodeNoMedia             = "NO_MEDIA"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MediaError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type MediaError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *MediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// NewMediaError creates a new MediaError.
func NewMediaError(code, message string, err error) *MediaError {
	return &MediaError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *MediaError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// HTTPStatus translates the error code to an HTTP status code.
func (e *MediaError) HTTPStatus() int {
	return StatusForCode(e.Code)
}

// StatusForCode translates error codes to HTTP status codes.
func StatusForCode(code string) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeUnsupportedPlatform:
		return http.StatusBadRequest // 400
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case ErrCodeSSRFRejected:
		return http.StatusForbidden // 403
	case ErrCodeNotFound, ErrCodeNoMedia:
		return http.StatusNotFound // 404
	case ErrCodeRateLimited, ErrCodePlatformThrottled:
		return http.StatusTooManyRequests // 429
	case ErrCodeUpstreamError:
		return http.StatusBadGateway // 502
	case ErrCodeMaintenance, ErrCodePlatformDisabled, ErrCodeUpstreamOffline:
		return http.StatusServiceUnavailable // 503
	case ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}
