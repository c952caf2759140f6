package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy configures automatic retry of a failed call.
//
// The delay before attempt n+1 is BaseDelay * 2^(n-1), capped at MaxDelay,
// so the LLM defaults wait 1s, 2s, then 4s.
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt. 1 means no retries.
	MaxAttempts int

	BaseDelay time.Duration

	// MaxDelay caps the backoff. 0 means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt. nil
	// means nothing is retried.
	Retryable func(error) bool
}

// DefaultLLMRetry is the policy applied to LLM calls: four attempts,
// backing off 1s, 2s and 4s, retrying transient provider errors.
func DefaultLLMRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
		Retryable:   IsRetryable,
	}
}

// Validate checks the policy's constraints.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return fmt.Errorf("MaxAttempts must be >= 1, got %d", rp.MaxAttempts)
	}
	if rp.BaseDelay < 0 {
		return errors.New("BaseDelay must not be negative")
	}
	if rp.MaxDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return fmt.Errorf("MaxDelay (%v) must be >= BaseDelay (%v)", rp.MaxDelay, rp.BaseDelay)
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based).
func (rp RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := rp.BaseDelay << (attempt - 1)
	if rp.MaxDelay > 0 && (d > rp.MaxDelay || d < 0) {
		d = rp.MaxDelay
	}
	return d
}

func (rp RetryPolicy) shouldRetry(attempt int, err error) bool {
	return attempt < rp.MaxAttempts && rp.Retryable != nil && rp.Retryable(err)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withTimeout runs fn under a per-call deadline. A call that outlives its
// own deadline, while the parent context is still live, returns an error
// whose message carries "timeout" so it classifies as transient.
func withTimeout[T any](ctx context.Context, timeout time.Duration, what string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return out, fmt.Errorf("%s timeout after %v: %w", what, timeout, err)
	}
	return out, err
}
