package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

// Sentinel errors shared by all adapters.
// Use errors.Is(err, storage.ErrNotFound) to check.
var (
	ErrBadRequest        = errors.New("storage: bad request")
	ErrUnauthorized      = errors.New("storage: unauthorized")
	ErrForbidden         = errors.New("storage: forbidden")
	ErrNotFound          = errors.New("storage: not found")
	ErrConflict          = errors.New("storage: conflict")
	ErrThrottled         = errors.New("storage: throttled")
	ErrServerError       = errors.New("storage: server error")
	ErrNetwork           = errors.New("storage: network error")
	ErrUnsupportedSize   = errors.New("storage: file too large for single-request upload")
	ErrNotImplemented    = errors.New("storage: not supported by provider")
	ErrCursorExpired     = errors.New("storage: change cursor expired")
	ErrChecksumMismatch  = errors.New("storage: checksum mismatch")
	ErrInsufficientSpace = errors.New("storage: insufficient storage")
)

// APIError wraps a sentinel with the HTTP status, the provider's error code
// and message, and the request id for support tickets.
type APIError struct {
	Provider   auth.Provider
	StatusCode int
	RequestID  string
	Code       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}

	if e.RequestID != "" {
		return fmt.Sprintf("%s: HTTP %d (request-id: %s): %s", e.Provider, e.StatusCode, e.RequestID, msg)
	}

	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func ClassifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrCursorExpired
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusInsufficientStorage:
		return ErrInsufficientSpace
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// IsRetryableStatus reports whether a request with this status should be
// retried inside the REST client.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}

// IsTransient reports whether a failed operation may succeed if attempted
// again later without user action. Authentication, configuration and size
// errors are never transient.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, auth.ErrAuthenticationExpired),
		errors.Is(err, auth.ErrConfiguration),
		errors.Is(err, auth.ErrSecurity),
		errors.Is(err, auth.ErrNotConnected),
		errors.Is(err, ErrUnsupportedSize),
		errors.Is(err, ErrUnauthorized):
		return false
	case errors.Is(err, ErrNetwork),
		errors.Is(err, ErrThrottled),
		errors.Is(err, ErrServerError),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, auth.ErrNetwork),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
