// Package retry provides exponential backoff for transient failures, both as
// an explicit state machine (Backoff) and as a generic loop around it (Do).
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/archon-research/oracle-pusher/internal/pkg/clock"
)

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries, just the initial attempt).
	// Zero durations and factor fall back to 10ms initial, 100ms max, factor 2.
	MaxRetries int

	// InitialBackoff is the initial backoff duration before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (caps exponential growth).
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry (default: 2.0).
	BackoffFactor float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// When true, actual backoff is: backoff + rand(0, backoff)
	Jitter bool

	// Clock drives the waits between attempts. Nil means the system clock.
	Clock clock.Clock
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry attempt (optional, for logging/metrics).
// attempt is 1-indexed (first retry is attempt 1).
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do executes fn until it succeeds, returns a non-retryable error, or the
// retry budget is exhausted.
//
//	result, err := retry.Do(ctx, retry.Config{MaxRetries: 3}, isTransientError, nil, func() (int, error) {
//	    return someOperation()
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	b := NewBackoff(cfg, cfg.Clock)

	for {
		b.Begin()
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			return zero, err
		}

		delay, ok := b.Fail()
		if !ok {
			return zero, fmt.Errorf("operation failed after %d retries: %w", b.Attempts()-1, err)
		}
		if onRetry != nil {
			onRetry(b.Attempts(), err, delay)
		}
		if err := b.Wait(ctx); err != nil {
			return zero, err
		}
	}
}

// DoVoid is like Do but for functions that don't return a value.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
