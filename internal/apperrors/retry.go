package apperrors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds configuration for failure backoff
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRange time.Duration
	MinInterval time.Duration
}

// DefaultBackoffConfig returns the backoff parameters used by the poll loop
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		BaseDelay:   1 * time.Second,
		MaxDelay:    15 * time.Second,
		Multiplier:  1.5,
		JitterRange: 500 * time.Millisecond,
		MinInterval: 1 * time.Second,
	}
}

// FailureBackoff computes the additional delay after consecutiveFailures
// transport-level failures: base * multiplier^n, capped at MaxDelay. Zero
// failures contribute no delay.
func (c *BackoffConfig) FailureBackoff(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(consecutiveFailures))
	if delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// Jitter returns a uniformly distributed offset in [-JitterRange, +JitterRange]
func (c *BackoffConfig) Jitter() time.Duration {
	if c.JitterRange <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(2*c.JitterRange))) - c.JitterRange
}

// Clamp enforces the minimum poll interval
func (c *BackoffConfig) Clamp(d time.Duration) time.Duration {
	if d < c.MinInterval {
		return c.MinInterval
	}
	return d
}

// RefreshFunc forces a credential refresh before an auth retry
type RefreshFunc func(ctx context.Context) error

// WithAuthRetry runs fn and, if it fails with an auth error, refreshes
// credentials and retries exactly once. Any other error, and any error on the
// second attempt, is returned as-is. This is the single retry policy applied
// to every authenticated operation.
func WithAuthRetry[T any](ctx context.Context, refresh RefreshFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err == nil || !IsAuthError(err) {
		return result, err
	}

	if refresh != nil {
		if rerr := refresh(ctx); rerr != nil {
			return result, err
		}
	}

	if ctx.Err() != nil {
		var zero T
		return zero, ctx.Err()
	}

	return fn(ctx)
}
