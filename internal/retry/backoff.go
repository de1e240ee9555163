package retry

import (
	"context"
	"time"
)

// Backoff defines the interface for backoff strategies.
type Backoff interface {
	// Next returns the duration to wait after the failed attempt with
	// the given 0-indexed number.
	Next(attempt int) time.Duration
}

// LinearBackoff grows the wait by a fixed step after every failure.
type LinearBackoff struct {
	step time.Duration
}

// NewLinearBackoff creates a linear backoff with the given step.
func NewLinearBackoff(step time.Duration) *LinearBackoff {
	return &LinearBackoff{step: step}
}

// Next implements Backoff.
func (b *LinearBackoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return b.step * time.Duration(attempt+1)
}

// SleepFunc waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was cut short.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc backed by a stoppable timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
