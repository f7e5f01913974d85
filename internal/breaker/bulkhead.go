package breaker

import (
	"github.com/fieldserve/client-go/internal/metrics"
)

// Bulkhead limits concurrent in-flight requests to one endpoint, preventing
// goroutine pileups when a backend slows down. It is independent of the
// breaker state machine: a slot must be acquired before dispatch and
// released exactly once afterwards.
type Bulkhead struct {
	sem      chan struct{}
	endpoint string
}

// NewBulkhead creates a limiter allowing at most maxConcurrent in-flight
// requests.
func NewBulkhead(endpoint string, maxConcurrent int) *Bulkhead {
	return &Bulkhead{
		sem:      make(chan struct{}, maxConcurrent),
		endpoint: endpoint,
	}
}

// TryAcquire takes a concurrency slot without blocking. If it returns true
// the caller MUST call Release when the request completes.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.sem <- struct{}{}:
		metrics.BulkheadInFlight.WithLabelValues(b.endpoint).Set(float64(len(b.sem)))
		return true
	default:
		metrics.BulkheadRejections.WithLabelValues(b.endpoint).Inc()
		return false
	}
}

// Release frees a concurrency slot. Must be called exactly once for every
// TryAcquire that returned true.
func (b *Bulkhead) Release() {
	<-b.sem
	metrics.BulkheadInFlight.WithLabelValues(b.endpoint).Set(float64(len(b.sem)))
}
