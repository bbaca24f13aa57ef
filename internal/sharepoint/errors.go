package sharepoint

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// APIError is a structured Graph API failure: HTTP status plus the code and
// message from the response body's error envelope.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sharepoint: %s: HTTP %d %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("sharepoint: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth one retry: throttling,
// server-busy, or gateway-class statuses.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// RowRejection reports whether the failure condemns a single row rather than
// the transport: the remote rejected the submitted field values. These are
// deterministic, so they are recorded and never retried.
func (e *APIError) RowRejection() bool {
	switch e.StatusCode {
	case 400, 409, 422:
		return true
	}
	return false
}

// AuthFailure reports an expired or insufficient credential. Fatal for the
// run: every later request would fail the same way.
func (e *APIError) AuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsTransient classifies any error from this package as retryable-once.
// Covers transient API statuses, network timeouts, and the per-request
// deadline firing.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRowRejection classifies an error as a per-row remote validation failure.
func IsRowRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RowRejection()
}

// IsAuthFailure classifies an error as a fatal credential problem.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AuthFailure()
}
