package fetch

import (
	"context"
	"time"
)

// Throttle enforces a flat pause before every request except the first one
// it sees.
type Throttle struct {
	delay   time.Duration
	started bool
	sleep   func(context.Context, time.Duration) error
}

// NewThrottle creates a throttle pausing delay between requests.
func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{delay: delay, sleep: sleepContext}
}

// Delay returns the configured pause.
func (t *Throttle) Delay() time.Duration {
	return t.delay
}

// Wait blocks until the next request may be sent.
func (t *Throttle) Wait(ctx context.Context) error {
	if !t.started {
		t.started = true
		return ctx.Err()
	}
	if t.delay <= 0 {
		return ctx.Err()
	}
	return t.sleep(ctx, t.delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
