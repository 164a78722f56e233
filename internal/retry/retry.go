// Package retry provides the backoff policy the workflow manager applies
// between stage attempts. Attempt counting lives with the caller; the manager
// persists it on the job row so the budget survives restarts.
package retry

import (
	"context"
	"time"
)

const (
	defaultBaseDelay = 2 * time.Second
	defaultMaxDelay  = 60 * time.Second
)

// Policy controls how long to wait between attempts. The zero value uses the
// package defaults.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Sleeper overrides how delays are performed (useful for tests).
	Sleeper func(time.Duration)
}

// Delay returns the backoff delay that precedes the retry after the given
// attempt number: base for attempt 1, doubling per attempt, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base < 0 {
		return 0
	}
	if base == 0 {
		base = defaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Sleep waits for the given delay, honoring the Sleeper override and context
// cancellation.
func (p Policy) Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if p.Sleeper != nil {
		p.Sleeper(delay)
		return nil
	}
	if ctx == nil {
		time.Sleep(delay)
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
