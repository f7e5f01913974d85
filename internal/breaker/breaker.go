// Package breaker provides the per-endpoint circuit breakers that protect
// the client from hammering a failing backend. Each endpoint gets its own
// consecutive-failure breaker, created lazily by the Registry on first use.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fieldserve/client-go/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; requests pass through.
	StateOpen                  // Failing; requests are rejected immediately.
	StateHalfOpen              // Probing; limited requests allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive infrastructure failures for one endpoint.
// Only infrastructure-class failures may be reported to RecordFailure;
// classifying them is the transport's job.
type Breaker struct {
	mu sync.Mutex

	state    State
	endpoint string
	logger   *slog.Logger

	failures    int       // consecutive infrastructure failures
	lastFailure time.Time // gates Open → HalfOpen
	probes      int       // requests admitted while half-open

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMax      int

	now func() time.Time // injectable clock for tests
}

// New creates a closed breaker for the given endpoint.
func New(endpoint string, failureThreshold int, recoveryTimeout time.Duration, halfOpenMax int, logger *slog.Logger) *Breaker {
	return &Breaker{
		state:            StateClosed,
		endpoint:         endpoint,
		logger:           logger,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMax:      halfOpenMax,
		now:              time.Now,
	}
}

// Allow reports whether a request to this endpoint may proceed. When it
// returns false the caller must synthesize a CIRCUIT_BREAKER_OPEN error
// without attempting the network call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.recoveryTimeout {
			b.transitionTo(StateHalfOpen)
			b.probes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.probes < b.halfOpenMax {
			b.probes++
			return true
		}
		// Probe quota exhausted without a success; re-open and restart
		// the recovery clock.
		b.lastFailure = b.now()
		b.transitionTo(StateOpen)
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
	}
}

// RecordFailure counts an infrastructure-class failure, opening the circuit
// once the threshold is reached. A failure during half-open re-opens
// immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.transitionTo(StateClosed)
}

// transitionTo changes state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.CircuitBreakerTransitions.WithLabelValues(b.endpoint, from.String(), newState.String()).Inc()
	metrics.CircuitBreakerState.WithLabelValues(b.endpoint).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"endpoint", b.endpoint,
		"from", from.String(),
		"to", newState.String(),
	)

	if newState == StateClosed {
		b.failures = 0
		b.probes = 0
	}
	if newState == StateOpen {
		b.probes = 0
	}
}
