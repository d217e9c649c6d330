package task

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"jordanella.com/yys-helper/internal/adb"
	"jordanella.com/yys-helper/internal/logging"
)

// RetryPolicy bounds how transient device errors are retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Delay between attempts.
	Delay time.Duration
	// Jitter randomises each delay by +/- this fraction. 0 keeps it fixed.
	Jitter float64
}

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.Jitter <= 0 {
		return backoff.NewConstantBackOff(p.Delay)
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.Delay,
		RandomizationFactor: p.Jitter,
		Multiplier:          1,
		MaxInterval:         p.Delay,
	}
}

// withRetry runs fn until it succeeds, fails with a non-transient error, or
// the policy is exhausted. Exhaustion is reported as *RetryExhaustedError.
func withRetry[T any](ctx context.Context, p RetryPolicy, op string, log *logging.Logger, fn func() (T, error)) (T, error) {
	attempts := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && !adb.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WarnWithContext("transient device error, retrying", map[string]interface{}{
				"op":      op,
				"attempt": attempts,
				"delay":   next.Round(time.Millisecond),
				"error":   err,
			})
		}),
	)
	if err == nil {
		return v, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if adb.IsTransient(err) {
		return v, &RetryExhaustedError{Op: op, Attempts: attempts, Err: err}
	}
	return v, err
}
