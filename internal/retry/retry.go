package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted indicates that every attempt allowed by the policy failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError is returned by Do after the final attempt fails.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

// Unwrap returns the error of the last attempt.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// RetryableFunc is a single attempt. attempt is 0-indexed.
type RetryableFunc func(ctx context.Context, attempt int) error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called after a failed attempt that will be retried,
// before waiting. attempt is 1-indexed.
type OnRetryFunc func(attempt int, err error, wait time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors are retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each wait.
	OnRetry OnRetryFunc

	// Sleep replaces the default timer based wait. Tests use it to
	// observe delays without sleeping.
	Sleep SleepFunc
}

// Do runs fn until it succeeds, the policy runs out of attempts, fn
// returns an error ShouldRetry rejects, or ctx is done.
//
// On exhaustion it returns *ExhaustedError wrapping the last error. On
// cancellation it returns ctx.Err() and makes no further attempt.
func Do(ctx context.Context, policy Policy, fn RetryableFunc, opts *Options) error {
	maxAttempts := policy.GetMaxAttempts()
	backoff := NewLinearBackoff(policy.GetBaseDelay())

	sleep := Sleep
	if opts != nil && opts.Sleep != nil {
		sleep = opts.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Check context before each attempt
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts-1 {
			break
		}

		wait := backoff.Next(attempt)
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(attempt+1, lastErr, wait)
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}
