package apiclient

import (
	"fmt"
	"time"
)

// TimeoutError reports that an attempt exceeded its deadline. It is never
// retried.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("apiclient: %s timed out after %s", e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// OfflineError reports an unreachable upstream. ShortCircuit is set when no
// network round-trip was attempted because the host failed recently.
type OfflineError struct {
	Host         string
	ShortCircuit bool
	Err          error
}

func (e *OfflineError) Error() string {
	if e.ShortCircuit {
		return fmt.Sprintf("apiclient: %s recently offline", e.Host)
	}
	return fmt.Sprintf("apiclient: %s offline: %v", e.Host, e.Err)
}

func (e *OfflineError) Unwrap() error { return e.Err }

// APIError is a non-2xx upstream response. Body holds at most maxErrorBody
// bytes.
type APIError struct {
	URL    string
	Status int
	Body   []byte
}

const maxErrorBody = 4 << 10

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: %s returned status %d", e.URL, e.Status)
}

// Temporary reports whether the status is one the client retries.
func (e *APIError) Temporary() bool { return e.Status >= 500 }
