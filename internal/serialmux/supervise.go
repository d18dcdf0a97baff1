package serialmux

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/aimtrack/internal/timeutil"
)

// Supervise keeps link's Monitor running until ctx is done or the link is
// closed. After a read failure it waits backoff, reopens the port and starts
// monitoring again; a failed reopen is retried after the same backoff.
func Supervise(ctx context.Context, link SerialMuxInterface, clock timeutil.Clock, backoff time.Duration) error {
	for {
		err := link.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		logf("monitor failed: %v; reopening in %v", err, backoff)

		for {
			if err := timeutil.SleepContext(ctx, clock, backoff); err != nil {
				return err
			}
			err := link.Reopen()
			if err == nil {
				logf("port reopened")
				break
			}
			if errors.Is(err, ErrClosed) {
				return nil
			}
			logf("reopen failed: %v", err)
		}
	}
}
