package federation

import (
	"context"
	"time"
)

// Backoff is the pause before retry number failCount: nothing before the
// first failure, then base doubling per failure up to max.
func Backoff(failCount int, base, max time.Duration) time.Duration {
	if failCount <= 0 || base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}
	d := base
	for i := 1; i < failCount; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	return min(d, max)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
