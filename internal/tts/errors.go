package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/lexiqai/voice-composer/internal/resilience"
)

// Common synthesis errors
var (
	// ErrEmptyText is returned when attempting to synthesize empty text
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyAudio is returned when a backend answers with no audio
	ErrEmptyAudio = errors.New("backend returned empty audio")

	// ErrRateLimited is returned when a backend rate limit is exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrClosed is returned when a closed backend is used
	ErrClosed = errors.New("backend is closed")
)

// SynthesisError carries a classified backend failure
type SynthesisError struct {
	// Backend is the backend that returned the error
	Backend string

	// StatusCode is the transport status (HTTP status or gRPC code), 0 when unknown
	StatusCode int

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error

	// Retryable indicates the error is transient and a retry may succeed
	Retryable bool

	// Timeout indicates the attempt ran out of time
	Timeout bool
}

// Error implements the error interface
func (e *SynthesisError) Error() string {
	msg := e.Backend + ": " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// NewSynthesisError creates a new SynthesisError
func NewSynthesisError(backend, message string, cause error, retryable bool) *SynthesisError {
	return &SynthesisError{
		Backend:   backend,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// StatusError classifies an HTTP-style status code; 429 and 5xx are retryable
func StatusError(backend string, status int, message string) *SynthesisError {
	var cause error
	if status == http.StatusTooManyRequests {
		cause = ErrRateLimited
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &SynthesisError{
		Backend:    backend,
		StatusCode: status,
		Message:    message,
		Cause:      cause,
		Retryable:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
}

// TransportError classifies a call failure that produced no status.
// Caller cancellation is passed through untouched.
func TransportError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var se *SynthesisError
	if errors.As(err, &se) {
		return err
	}

	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	if timeout {
		return &SynthesisError{Backend: backend, Message: "request timed out", Cause: err, Retryable: true, Timeout: true}
	}

	return &SynthesisError{
		Backend:   backend,
		Message:   "transport error",
		Cause:     err,
		Retryable: true,
	}
}

// IsRetryable reports whether err is worth another attempt on the same backend
func IsRetryable(err error) bool {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return resilience.IsRetryableNetworkError(err)
}

// IsTimeout reports whether err is an attempt timeout
func IsTimeout(err error) bool {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRejected reports whether the backend refused the request (non-retryable status)
func IsRejected(err error) bool {
	var se *SynthesisError
	return errors.As(err, &se) && !se.Retryable && se.StatusCode != 0
}
