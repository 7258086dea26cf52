package util

import (
	"context"
	"time"
)

// maxBackoff caps the doubling delay so a long retry run against a flaky
// upstream settles into a steady probe instead of growing without bound.
const maxBackoff = 30 * time.Second

// Retry calls fn up to maxAttempts times, doubling the delay between
// attempts from baseDelay up to a 30s cap. It returns nil on the first
// success and the last error once attempts run out. Cancelling the context
// stops the run between attempts; the last fn error wins over ctx.Err() so
// callers see what actually went wrong upstream.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
}
