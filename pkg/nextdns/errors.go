package nextdns

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the client.
var (
	// ErrInvalidAPIKey indicates the API rejected the key (HTTP 401/403).
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrConnection indicates a transport-level failure talking to the API.
	ErrConnection = errors.New("connection error")

	// ErrTimeout indicates the request did not complete within its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrUnknownSetting is returned by SetSetting for keys with no API mapping.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrUnknownSegment is returned by GetAnalytics for unsupported segments.
	ErrUnknownSegment = errors.New("unknown analytics segment")
)

// APIError is an application-level error reported by the API.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Detail != "":
		return fmt.Sprintf("API error (status %d): %s: %s", e.Status, e.Code, e.Detail)
	case e.Code != "":
		return fmt.Sprintf("API error (status %d): %s", e.Status, e.Code)
	default:
		return fmt.Sprintf("API error: unexpected status code %d", e.Status)
	}
}

// ErrorKind classifies a client error for retry decisions.
type ErrorKind int

const (
	// KindNone is returned for a nil error.
	KindNone ErrorKind = iota
	// KindAuthInvalid means the credential was rejected. Retrying is pointless.
	KindAuthInvalid
	// KindRemote means the API returned an application-level error.
	KindRemote
	// KindConnection means the API could not be reached.
	KindConnection
	// KindTimeout means the bounded wait elapsed.
	KindTimeout
)

// String returns the kind name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindRemote:
		return "remote_error"
	case KindConnection:
		return "connection_error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by the client onto an ErrorKind.
// Errors the client did not produce itself (malformed bodies, unexpected
// payloads) are treated as remote errors.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidAPIKey):
		return KindAuthInvalid
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrConnection):
		return KindConnection
	default:
		return KindRemote
	}
}

// IsInvalidAPIKey returns true if the error indicates the key was rejected.
func IsInvalidAPIKey(err error) bool {
	return errors.Is(err, ErrInvalidAPIKey)
}

// IsAPIError returns true if the error carries an API error response.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// wrapTransportError tags an http.Client error as a timeout or connection error.
// Cancellation is passed through untouched so callers can tell it apart.
func wrapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
