package scheduler

import (
	"context"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the default transient retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.BackoffFactor)
		if delay > c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// RetryWithCheck executes fn with exponential backoff while shouldRetry
// accepts the error. onRetry, when set, runs before each wait.
func RetryWithCheck[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(attempt int) (T, error),
	shouldRetry func(error) bool,
	onRetry func(attempt int, err error, delay time.Duration),
) (T, error) {
	var lastErr error
	var zero T

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !shouldRetry(err) {
			break
		}

		// Don't wait after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}
