package common

import (
	"context"
	"time"
)

// RunEvery calls fn immediately and then once per interval until ctx is
// canceled. Cancellation is only observed between calls; a running fn is
// never interrupted by RunEvery itself. It always returns ctx.Err().
func RunEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		panic("common.RunEvery: interval must be positive")
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		fn(ctx)
		// sleep for a full interval after each run so a slow tick never
		// causes back-to-back runs
		timer.Reset(interval)
	}
}
