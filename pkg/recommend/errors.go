package recommend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCredentialRejected is returned when the completion service rejects the API key
	// (401, or any answer carrying ReasonAPIKeyInvalid)
	ErrCredentialRejected = errors.New("API key rejected by completion service")

	// ErrQuotaExceeded is returned when the completion service rate-limits the API key (429)
	ErrQuotaExceeded = errors.New("completion service rate limit exceeded")

	// ErrTransient is returned for upstream failures worth retrying with another key
	ErrTransient = errors.New("transient completion service error")

	// ErrFatal is returned for request errors that no other key would fix
	ErrFatal = errors.New("completion service request failed")

	// ErrInvalidConfiguration is returned when a client is built without a pool or completer
	ErrInvalidConfiguration = errors.New("invalid recommendation client configuration")
)

// ReasonAPIKeyInvalid is the error reason Gemini reports for a bad or revoked key.
// It arrives with HTTP 400, not 401.
const ReasonAPIKeyInvalid = "API_KEY_INVALID"

// ServiceError is a non-2xx answer from the completion service
type ServiceError struct {
	StatusCode int
	Message    string

	// Reason is the machine-readable error reason, when the service sent one
	Reason string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion service returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("completion service returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the package sentinels so callers can use errors.Is.
func (e *ServiceError) Unwrap() error {
	switch {
	case e.Reason == ReasonAPIKeyInvalid:
		return ErrCredentialRejected
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case e.StatusCode == http.StatusUnauthorized:
		return ErrCredentialRejected
	case e.StatusCode >= 500:
		return ErrTransient
	default:
		return ErrFatal
	}
}
