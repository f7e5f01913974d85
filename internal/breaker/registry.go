package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// Config holds the breaker settings applied to every endpoint.
type Config struct {
	// FailureThreshold is the number of consecutive infrastructure
	// failures that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit waits before admitting
	// half-open probes.
	RecoveryTimeout time.Duration
	// HalfOpenMax is the probe-call quota while half-open.
	HalfOpenMax int
	// MaxConcurrent caps in-flight requests per endpoint; 0 disables the
	// bulkhead.
	MaxConcurrent int
}

// Registry owns one breaker (and optional bulkhead) per endpoint, created
// lazily on first reference. State persists for the process lifetime only.
type Registry struct {
	mu     sync.Mutex
	guards map[string]*guard
	cfg    Config
	logger *slog.Logger
}

type guard struct {
	breaker  *Breaker
	bulkhead *Bulkhead // nil when MaxConcurrent is 0
}

// NewRegistry creates an empty registry with the given per-endpoint settings.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	return &Registry{
		guards: make(map[string]*guard),
		cfg:    cfg,
		logger: logger,
	}
}

// For returns the breaker for an endpoint, creating it on first use.
func (r *Registry) For(endpoint string) *Breaker {
	return r.guardFor(endpoint).breaker
}

// BulkheadFor returns the endpoint's concurrency limiter, or nil when the
// bulkhead is disabled.
func (r *Registry) BulkheadFor(endpoint string) *Bulkhead {
	return r.guardFor(endpoint).bulkhead
}

func (r *Registry) guardFor(endpoint string) *guard {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.guards[endpoint]
	if !ok {
		g = &guard{
			breaker: New(endpoint, r.cfg.FailureThreshold, r.cfg.RecoveryTimeout, r.cfg.HalfOpenMax, r.logger),
		}
		if r.cfg.MaxConcurrent > 0 {
			g.bulkhead = NewBulkhead(endpoint, r.cfg.MaxConcurrent)
		}
		r.guards[endpoint] = g
	}
	return g
}

// States returns a snapshot of every known endpoint's breaker state.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.guards))
	for ep, g := range r.guards {
		out[ep] = g.breaker.State()
	}
	return out
}

// UpdateConfig applies new settings to future and existing breakers.
// Existing bulkhead capacities are left untouched; resizing a semaphore
// mid-flight would strand slot holders. Used by config hot reload.
func (r *Registry) UpdateConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = cfg
	for _, g := range r.guards {
		g.breaker.mu.Lock()
		g.breaker.failureThreshold = cfg.FailureThreshold
		g.breaker.recoveryTimeout = cfg.RecoveryTimeout
		g.breaker.halfOpenMax = cfg.HalfOpenMax
		g.breaker.mu.Unlock()
	}
}
