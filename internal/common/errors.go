package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Error kinds shared by every pipeline component. Wrap with %w so callers can
// branch with errors.Is.
var (
	ErrNetwork             = errors.New("network error")
	ErrRateLimited         = errors.New("rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrParse               = errors.New("parse error")
	ErrValidation          = errors.New("validation error")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrNotFound            = errors.New("not found")
	ErrDecisionConflict    = errors.New("decision conflict")
	ErrCycleInProgress     = errors.New("cycle in progress")
	ErrShuttingDown        = errors.New("shutting down")
)

// ErrorKind classifies an error for retry and fallback decisions.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindNetwork             ErrorKind = "network"
	KindRateLimited         ErrorKind = "rate_limited"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindParse               ErrorKind = "parse"
	KindValidation          ErrorKind = "validation"
	KindInvariantViolation  ErrorKind = "invariant_violation"
	KindUnknown             ErrorKind = "unknown"
)

// RateLimitedError carries the provider's suggested wait.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %v): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %v)", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRateLimited, e.Err}
	}
	return []error{ErrRateLimited}
}

// UnavailableError is a provider answering with an HTTP 5xx status.
type UnavailableError struct {
	Status int
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider unavailable (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provider unavailable (status %d)", e.Status)
}

func (e *UnavailableError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProviderUnavailable, e.Err}
	}
	return []error{ErrProviderUnavailable}
}

func (e *UnavailableError) HTTPStatus() int { return e.Status }

// NewValidationError formats a message wrapped as ErrValidation.
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NewParseError wraps cause as ErrParse.
func NewParseError(cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrParse, msg, cause)
	}
	return fmt.Errorf("%w: %s", ErrParse, msg)
}

// NewInvariantViolation formats a message wrapped as ErrInvariantViolation.
func NewInvariantViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Classify maps err onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariantViolation
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch status := sc.HTTPStatus(); {
		case status == 429:
			return KindRateLimited
		case status == 408:
			return KindNetwork
		case status >= 500:
			return KindProviderUnavailable
		case status >= 400:
			return KindValidation
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}

	return KindUnknown
}

// IsRetryable reports whether err is worth another attempt. Unavailable
// providers are retried only when they answered with a 5xx status; an
// unconfigured provider is not.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindNetwork, KindRateLimited:
		return true
	case KindProviderUnavailable:
		var sc StatusCoder
		return errors.As(err, &sc) && sc.HTTPStatus() >= 500
	default:
		return false
	}
}

// RetryAfter extracts a provider suggested delay, or 0.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
