// Package retry implements the bounded retry policy shared by hardware call sites.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped into the error returned when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how often and how fast an operation is retried.
type Policy struct {
	MaxAttempts int           // Total attempts including the first, values below 1 mean 1
	Backoff     time.Duration // Delay before the second attempt
	Multiplier  float64       // Growth factor applied to Backoff after each retry, 0 or 1 keeps it constant
	MaxBackoff  time.Duration // Upper bound for the delay, 0 means unbounded

	// IsRetryable decides whether an error is worth another attempt.
	// A nil function treats every error as retryable.
	IsRetryable func(error) bool
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1}

// Attempts returns the effective number of attempts.
func (p Policy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.IsRetryable == nil {
		return true
	}
	return p.IsRetryable(err)
}

// Delay returns the pause before the given attempt (1-based). The first attempt has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.Backoff <= 0 {
		return 0
	}

	d := float64(p.Backoff)
	if p.Multiplier > 1 {
		for i := 2; i < attempt; i++ {
			d *= p.Multiplier
		}
	}
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. attempt is 1-based.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	attempts := p.Attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w after %d attempt(s): %w", ErrExhausted, attempts, lastErr)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
