// Package catalog is a REST client for an Iceberg-style table
// catalogue. The gateway registers flushed and compacted files with
// the catalogue on a best-effort basis; every failure here is
// classified so callers can decide between conflict handling and
// swallowing.
package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification. Match with
// errors.Is(err, catalog.ErrConflict).
var (
	ErrBadRequest   = errors.New("catalog: bad request")
	ErrUnauthorized = errors.New("catalog: unauthorized")
	ErrForbidden    = errors.New("catalog: forbidden")
	ErrNotFound     = errors.New("catalog: not found")
	ErrConflict     = errors.New("catalog: conflict")
	ErrThrottled    = errors.New("catalog: throttled")
	ErrServerError  = errors.New("catalog: server error")
)

// CatalogError wraps a sentinel with the HTTP status, request ID and
// response body of a failed call.
type CatalogError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *CatalogError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("catalog: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("catalog: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a catalogue conflict (HTTP 409).
// Flush proceeds past table-exists conflicts and retries append
// conflicts exactly once.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
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
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the transport should retry the status.
// Conflicts are never retried here; the flush coordinator owns that
// decision.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
