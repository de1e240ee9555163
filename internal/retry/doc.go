// Package retry provides bounded retry with linear backoff for the relay.
//
// A Policy is a small immutable value: the total number of attempts and
// the base delay. The wait before retry k (k = 1..MaxAttempts-1) is
// BaseDelay × k, so the defaults of 3 attempts and 1s produce waits of 1s
// and 2s. There is never a wait before the first attempt.
//
// # Usage
//
//	policy := retry.DefaultPolicy()
//	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
//	    return dial(ctx)
//	}, &retry.Options{
//	    OnRetry: func(attempt int, err error, wait time.Duration) {
//	        logger.Warn("attempt failed", ...)
//	    },
//	})
//
// Waits are cancellable: when ctx is done the loop returns ctx.Err()
// without making another attempt.
package retry
