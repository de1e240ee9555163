package retry

import (
	"fmt"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default total number of attempts,
	// including the first one.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the default base delay for linear backoff.
	DefaultBaseDelay = time.Second
)

// Policy defines how many times an operation is attempted and how long to
// wait between attempts. It is a value type and is copied into every
// connect, so a later change never affects an attempt loop in progress.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 fall back to DefaultMaxAttempts.
	MaxAttempts int

	// BaseDelay is multiplied by the retry index to get the wait.
	// Negative values fall back to DefaultBaseDelay; zero disables waiting.
	BaseDelay time.Duration
}

// DefaultPolicy returns the default retry policy (3 attempts, 1s base).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// GetMaxAttempts returns the effective number of attempts.
func (p Policy) GetMaxAttempts() int {
	if p.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// GetBaseDelay returns the effective base delay.
func (p Policy) GetBaseDelay() time.Duration {
	if p.BaseDelay < 0 {
		return DefaultBaseDelay
	}
	return p.BaseDelay
}

// Delay returns the wait after the failed attempt with the given
// 0-indexed number, i.e. BaseDelay × (attempt+1).
func (p Policy) Delay(attempt int) time.Duration {
	return NewLinearBackoff(p.GetBaseDelay()).Next(attempt)
}

// Schedule returns every wait the policy can produce, in order.
// Its length is MaxAttempts-1.
func (p Policy) Schedule() []time.Duration {
	n := p.GetMaxAttempts()
	delays := make([]time.Duration, 0, n-1)
	for attempt := 0; attempt < n-1; attempt++ {
		delays = append(delays, p.Delay(attempt))
	}
	return delays
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	return fmt.Sprintf("attempts=%d base_delay=%s", p.GetMaxAttempts(), p.GetBaseDelay())
}
