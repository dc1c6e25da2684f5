package eboekhouden

import (
	"context"
	"math/rand"
	"time"

	"ebbridge/internal/core/apperror"
	"ebbridge/pkg/logger"
)

// retryPolicy retries transport-level failures with exponential backoff and
// jitter. Auth and data errors are never retried.
type retryPolicy struct {
	attempts int
	base     time.Duration
	cap      time.Duration
}

func defaultRetryPolicy(attempts int) retryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return retryPolicy{
		attempts: attempts,
		base:     500 * time.Millisecond,
		cap:      30 * time.Second,
	}
}

// do runs fn until it succeeds, returns a non-retryable error, or the
// attempt ceiling is reached.
func (p retryPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apperror.IsRetryable(err) {
			return err
		}
		if attempt == p.attempts {
			break
		}

		delay := p.backoff(attempt)
		logger.Warn(ctx, "transient upstream failure, backing off",
			"op", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := p.base << uint(attempt-1)
	if delay > p.cap {
		delay = p.cap
	}
	// Full jitter keeps concurrent clients from synchronizing.
	return time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
}
