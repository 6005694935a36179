package domain

import (
	"errors"
	"strings"
)

var (
	// ErrMalformedMessage is returned when a queue message body cannot be
	// reconstructed into a JobMessage. Terminal: the retry counter is lost
	// with the structure, so the message is never retried.
	ErrMalformedMessage = errors.New("malformed job message")

	// ErrMaxRetriesExceeded is returned when a job has exhausted its retry
	// budget and must be dead-lettered.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrEventNotFound is returned when a rate-limit event cannot be found.
	ErrEventNotFound = errors.New("rate limit event not found")
)

// RetryableError wraps transient failures that should trigger a
// republish with an incremented retry counter.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRateLimitError reports whether an upstream error message carries a
// rate-limiting signature (HTTP 429 / "Too Many Requests").
func IsRateLimitError(errMsg string) bool {
	return strings.Contains(errMsg, "429") || strings.Contains(errMsg, "Too Many Requests")
}
