package generic

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// =============================================================================
// RETRY - Bounded backoff for contended rows
// =============================================================================

// RetryPolicy retries an operation that lost a race on a ledger or request
// row. Only ErrConcurrentModification is retried; every other error is
// returned as-is on the first attempt.
type RetryPolicy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // delay before the second attempt
	MaxDelay  time.Duration // cap for the exponential delay
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// context ends, or attempts run out (ContentionError).
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, p.delay(i)); err != nil {
				return err
			}
		}
		last = fn(ctx)
		if last == nil || !IsRetryable(last) {
			return last
		}
	}
	return &ContentionError{Attempts: attempts, Last: last}
}

// delay returns the full-jitter exponential delay before attempt i (i >= 1).
func (p RetryPolicy) delay(i int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (i - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2+1)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Join(ErrContention, ctx.Err())
	case <-t.C:
		return nil
	}
}
