package providers

import (
	"errors"
	"fmt"
)

// RequestError is the failure of a single attempt against one backend.
type RequestError struct {
	Provider   Type
	Code       string
	Message    string
	StatusCode int

	// Retryable indicates the request may still succeed elsewhere; the
	// fallback chain moves on either way, this drives per-adapter retries.
	Retryable bool

	Cause error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap implements error unwrapping.
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// NewRequestError creates a new per-attempt error.
func NewRequestError(provider Type, code, message string, statusCode int, retryable bool, cause error) *RequestError {
	return &RequestError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable reports whether err carries a retryable request failure.
func IsRetryable(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// ValidationError rejects the input itself rather than the backend that saw
// it. It is never retried across providers and always reaches the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

// IsValidation reports whether err is input rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
