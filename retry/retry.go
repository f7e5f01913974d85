// Package retry provides an exponential-backoff-with-jitter executor for
// transient failures. Retryability is decided by the normalized error
// taxonomy in package apierror: a non-retryable error stops the loop
// immediately, no matter how many attempts remain.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/fieldserve/client-go/apierror"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	// BaseDelay is the backoff before the second attempt; it doubles on
	// each subsequent attempt.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff (jitter is added on top).
	MaxDelay time.Duration
}

// DefaultPolicy returns the client-wide retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// jitterMax is the upper bound of the uniform random delay added to every
// backoff to avoid synchronized retry storms across clients.
const jitterMax = time.Second

// maxConsecutiveFailures aborts a single retry session early. This guard is
// local to one Do invocation and independent of the shared circuit breaker.
const maxConsecutiveFailures = 5

// Do runs op up to p.MaxRetries times, sleeping between attempts. It returns
// the first success, or the last error once attempts are exhausted or the
// error is classified non-retryable. Cancelling ctx aborts a pending backoff
// and returns a REQUEST_ABORTED error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}

	var lastErr error
	failures := 0

	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !apierror.IsRetryable(err) {
			return zero, err
		}

		failures++
		if failures >= maxConsecutiveFailures || attempt == p.MaxRetries {
			break
		}

		delay := Backoff(attempt, p) + time.Duration(rand.Int64N(int64(jitterMax)))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, apierror.Aborted(ctx.Err())
		}
	}

	return zero, lastErr
}

// Backoff returns the pre-jitter delay applied after the given attempt
// (1-based): min(BaseDelay × 2^(attempt−1), MaxDelay).
func Backoff(attempt int, p Policy) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
