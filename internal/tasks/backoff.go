package tasks

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoff returns the delay before retry number attempt (starting at 1):
// full jitter over base*2^(attempt-1), raised to the platform's hint, never above max.
func (e *Engine) backoff(attempt int, hint time.Duration) time.Duration {
	ceiling := e.bulk.BackoffCap
	d := e.bulk.BackoffBase
	for i := 1; i < attempt && (ceiling <= 0 || d < ceiling); i++ {
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}

	delay := e.jitter(d)
	if hint > delay {
		delay = hint
	}
	return e.capDelay(delay)
}

// capDelay bounds d by the configured backoff cap, if any.
func (e *Engine) capDelay(d time.Duration) time.Duration {
	if c := e.bulk.BackoffCap; c > 0 && d > c {
		return c
	}
	return d
}

// fullJitter picks a uniform delay in [0, max].
func fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
