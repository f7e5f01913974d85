package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fieldserve/client-go/apierror"
)

// fastPolicy keeps test runtimes low while preserving the retry count.
func fastPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func retryableErr(status int) error {
	return &apierror.Error{Code: apierror.HTTPCode(status), Status: status, Retryable: true}
}

func fatalErr(status int) error {
	return &apierror.Error{Code: apierror.HTTPCode(status), Status: status, Retryable: false}
}

func TestSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || calls != 1 {
		t.Fatalf("got v=%d calls=%d", v, calls)
	}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", retryableErr(503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Fatalf("got v=%q calls=%d", v, calls)
	}
}

func TestNonRetryableShortCircuits(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 422} {
		calls := 0
		_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
			calls++
			return 0, fatalErr(status)
		})
		if calls != 1 {
			t.Errorf("status %d: operation invoked %d times, want exactly 1", status, calls)
		}
		e, ok := apierror.From(err)
		if !ok || e.Status != status {
			t.Errorf("status %d: expected normalized error back, got %v", status, err)
		}
	}
}

func TestUnknownErrorsNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("something unexpected")
	})
	if calls != 1 {
		t.Fatalf("unknown errors must not be retried, got %d calls", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, retryableErr(500 + calls)
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	e, ok := apierror.From(err)
	if !ok || e.Status != 503 {
		t.Fatalf("expected last error (status 503), got %v", err)
	}
}

func TestConsecutiveFailureGuard(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(20), func(context.Context) (int, error) {
		calls++
		return 0, retryableErr(503)
	})
	if calls != maxConsecutiveFailures {
		t.Fatalf("expected fast-fail after %d failures, got %d attempts", maxConsecutiveFailures, calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestContextCancellationAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxRetries: 3, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, retryableErr(503)
	})
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not abort the backoff sleep")
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", calls)
	}
	e, ok := apierror.From(err)
	if !ok || e.Code != apierror.CodeAborted {
		t.Fatalf("expected REQUEST_ABORTED, got %v", err)
	}
}

func TestBackoffMonotonicity(t *testing.T) {
	p := Policy{MaxRetries: 10, BaseDelay: 1000 * time.Millisecond, MaxDelay: 10000 * time.Millisecond}

	want := []time.Duration{
		1000 * time.Millisecond,  // attempt 1
		2000 * time.Millisecond,  // attempt 2
		4000 * time.Millisecond,  // attempt 3
		8000 * time.Millisecond,  // attempt 4
		10000 * time.Millisecond, // attempt 5, capped
		10000 * time.Millisecond, // attempt 6, capped
	}
	for i, w := range want {
		if got := Backoff(i+1, p); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffOverflowSafe(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	// Large attempt numbers must not overflow past the cap.
	if got := Backoff(70, p); got != p.MaxDelay {
		t.Fatalf("Backoff(70) = %v, want %v", got, p.MaxDelay)
	}
}

func TestActualDelayWithinJitterBounds(t *testing.T) {
	// One transient failure, then success: the gap between the two calls
	// must be within [Backoff(1), Backoff(1)+jitterMax).
	p := Policy{MaxRetries: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

	var first, second time.Time
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		if first.IsZero() {
			first = time.Now()
			return 0, retryableErr(503)
		}
		second = time.Now()
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gap := second.Sub(first)
	if gap < p.BaseDelay {
		t.Fatalf("delay %v below computed backoff %v", gap, p.BaseDelay)
	}
	// Generous upper bound: jitter plus scheduling slack.
	if gap > p.BaseDelay+jitterMax+500*time.Millisecond {
		t.Fatalf("delay %v far above backoff+jitter", gap)
	}
}
