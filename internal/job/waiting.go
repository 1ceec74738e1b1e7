package job

import (
	"context"
	"time"
)

// RenderWork returns a frame job that just sleeps for the given duration,
// standing in for a client's draw call. It stops early when ctx ends.
func RenderWork(cost time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		timer := time.NewTimer(cost)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			// If the time is up, the frame is done.
			return nil
		}
	}
}
