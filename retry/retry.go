// Package retry runs an operation with capped exponential backoff. The gate
// never retries verify or settle; this is for startup checks and tooling.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff

	// OnRetry, if set, is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig suits probing a facilitator while it starts up.
var DefaultConfig = Config{
	MaxAttempts:  5,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Always retries every error.
func Always(error) bool { return true }

// Delay returns the backoff before the given 1-based retry.
func (c Config) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialDelay)
	for i := 1; i < retry; i++ {
		d *= mult
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// WithRetry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. fn receives the 1-based attempt number.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, error) {
	var zero T
	if isRetryable == nil {
		isRetryable = Always
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("context cancelled after %d attempts: %w", attempt-1, lastErr)
			}
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := config.Delay(attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled after %d attempts: %w", attempt, lastErr)
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
