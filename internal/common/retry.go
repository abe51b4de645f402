package common

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
)

// RetryPolicy defines bounded retry behaviour with exponential backoff.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
	// Retryable decides whether an error earns another attempt. Defaults to IsRetryable.
	Retryable func(error) bool
}

// NewRetryPolicy creates a retry policy with the given bounds.
func NewRetryPolicy(maxAttempts int, initial, max time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    initial,
		MaxBackoff:        max,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		Retryable:         IsRetryable,
	}
}

// CalculateBackoff returns the wait before attempt+1, capped at MaxBackoff
// with ±25% jitter. A provider suggested delay takes precedence when longer.
func (p *RetryPolicy) CalculateBackoff(attempt int, suggested time.Duration) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= p.BackoffMultiplier
	}
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	if p.Jitter {
		backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	}
	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	d := time.Duration(backoff)
	if suggested > d {
		d = suggested
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			d = p.MaxBackoff
		}
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts
// run out. The number of attempts made is returned with the last error.
func (p *RetryPolicy) Do(ctx context.Context, logger arbor.ILogger, operation string, fn func(ctx context.Context) error) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}

		if !retryable(lastErr) {
			if logger != nil {
				logger.Debug().
					Str("operation", operation).
					Int("attempt", attempt+1).
					Err(lastErr).
					Msg("Non-retryable error, failing immediately")
			}
			return attempt + 1, lastErr
		}

		if attempt < p.MaxAttempts-1 {
			backoff := p.CalculateBackoff(attempt, RetryAfter(lastErr))
			if logger != nil {
				logger.Debug().
					Str("operation", operation).
					Int("attempt", attempt+1).
					Err(lastErr).
					Dur("backoff", backoff).
					Msg("Retrying after backoff")
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt + 1, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if logger != nil {
		logger.Warn().
			Str("operation", operation).
			Int("max_attempts", p.MaxAttempts).
			Err(lastErr).
			Msg("All retry attempts exhausted")
	}

	return p.MaxAttempts, lastErr
}
