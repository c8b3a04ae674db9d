package rerun

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

func sleepWithClock(clock quartz.Clock) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		timer := clock.NewTimer(d, "rerun", "wait")
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
