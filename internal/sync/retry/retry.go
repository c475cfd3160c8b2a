// Package retry wraps fallible operations with bounded linear-backoff
// retries.
package retry

import (
	"context"
	"time"
)

// DefaultDelay is the base delay between attempts. Attempt n waits
// n * DefaultDelay before running.
const DefaultDelay = time.Second

// Config configures an Executor.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// Delay is the base delay unit. Defaults to DefaultDelay.
	Delay time.Duration

	// Retryable decides whether a failure is worth retrying. Nil retries
	// every failure up to the limit, so callers with non-retryable error
	// classes (auth failures, validation) should supply a predicate.
	Retryable func(error) bool
}

// Executor retries an operation with linear backoff: 1x, 2x, 3x the base
// delay between attempts.
type Executor struct {
	maxRetries int
	delay      time.Duration
	retryable  func(error) bool
}

// New creates an Executor.
func New(cfg Config) *Executor {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Executor{
		maxRetries: cfg.MaxRetries,
		delay:      delay,
		retryable:  cfg.Retryable,
	}
}

// Execute runs op up to MaxRetries+1 times. Before each retry delay it
// invokes onRetry (if non-nil) with the retry number and the error that
// caused it. The last observed error is returned when all attempts are
// exhausted.
func (e *Executor) Execute(ctx context.Context, op func() error, onRetry func(attempt int, err error)) error {
	_, err := Do(ctx, e, func() (struct{}, error) {
		return struct{}{}, op()
	}, onRetry)
	return err
}

// Do is the value-returning form of Execute.
func Do[T any](ctx context.Context, e *Executor, op func() (T, error), onRetry func(attempt int, err error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}

			delay := time.Duration(attempt) * e.delay
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if e.retryable != nil && !e.retryable(err) {
			return zero, err
		}
	}

	return zero, lastErr
}
