package upstream

import (
	"context"
	"time"
)

// backoff returns base * 2^attempt, capped at ceiling. Negative attempts
// return base.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		return base
	}
	// 2^30 * any sane base is already past any ceiling.
	if attempt > 30 {
		return ceiling
	}
	d := base * time.Duration(1<<attempt)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
