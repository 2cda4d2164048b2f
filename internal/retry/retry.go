// Package retry runs an operation under a bounded retry policy with
// exponential backoff and jitter.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls how Do retries.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // backoff cap
	Jitter      time.Duration // random extra delay, uniform in [0, Jitter)

	// Permanent marks an error as not worth retrying. Nil retries everything.
	Permanent func(error) bool

	// OnRetry is an optional hook for logging/metrics.
	OnRetry func(attempt int, wait time.Duration, err error)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Do invokes fn until it succeeds, the policy is exhausted, the error is
// permanent, or the context ends. Returns the last error.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	p = p.normalized()

	var lastErr error
	wait := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Permanent != nil && p.Permanent(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		d := wait
		if p.Jitter > 0 {
			d += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, lastErr)
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait *= 2
		if wait > p.MaxDelay {
			wait = p.MaxDelay
		}
	}
	return lastErr
}
