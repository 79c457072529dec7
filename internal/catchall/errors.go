package catchall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ternarybob/catchall/internal/models"
)

// AuthError means the API key is missing or was rejected. Never retried.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("catchall auth error: %s", e.Message)
	}
	return fmt.Sprintf("catchall auth error: %s (status: %d)", e.Message, e.StatusCode)
}

// ValidationError carries field-level detail for a malformed request.
// Never retried.
type ValidationError struct {
	Endpoint string
	Fields   []models.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	if e.Endpoint == "" {
		return fmt.Sprintf("catchall validation error: %s", strings.Join(parts, "; "))
	}
	return fmt.Sprintf("catchall validation error on %s: %s", e.Endpoint, strings.Join(parts, "; "))
}

// NewValidationError builds a ValidationError for a single location
func NewValidationError(msg string, loc ...string) *ValidationError {
	return &ValidationError{Fields: []models.FieldError{{Loc: loc, Msg: msg}}}
}

// APIError is any other non-2xx response
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catchall API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// IsAuthError reports whether err is or wraps an AuthError
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsValidationError reports whether err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransient reports whether err is worth retrying after a backoff:
// network failures, 429 and 5xx responses. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsAuthError(err) || IsValidationError(err) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var transportErr *transportError
	return errors.As(err, &transportErr)
}

// transportError wraps a failure to get any HTTP response at all
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("failed to execute request: %v", e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}
