// Package clock holds the small time helpers shared by the polling loops.
package clock

import (
	"context"
	"math/rand"
	"time"
)

// SleepWithContext blocks for d or until ctx is canceled, whichever comes
// first, and returns ctx.Err() on early wakeup.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Jitter stretches d by up to 25% so concurrent reconnect loops do not wake
// in lockstep.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}
