package breaker

import (
	"log/slog"
	"testing"
	"time"
)

func newTestRegistry(maxConcurrent int) *Registry {
	return NewRegistry(Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMax:      3,
		MaxConcurrent:    maxConcurrent,
	}, slog.Default())
}

func TestRegistryLazyCreation(t *testing.T) {
	r := newTestRegistry(0)

	if len(r.States()) != 0 {
		t.Fatal("expected empty registry")
	}

	b := r.For("GET /workorders")
	if b == nil || b.State() != StateClosed {
		t.Fatal("expected a fresh closed breaker")
	}
	if got := r.For("GET /workorders"); got != b {
		t.Fatal("expected the same breaker instance on second lookup")
	}
	if len(r.States()) != 1 {
		t.Fatalf("expected 1 tracked endpoint, got %d", len(r.States()))
	}
}

func TestRegistryIsolatesEndpoints(t *testing.T) {
	r := newTestRegistry(0)

	a := r.For("GET /workorders")
	for i := 0; i < 5; i++ {
		a.RecordFailure()
	}
	if a.State() != StateOpen {
		t.Fatalf("expected open, got %v", a.State())
	}

	// A different endpoint is unaffected.
	if st := r.For("GET /assets").State(); st != StateClosed {
		t.Fatalf("expected other endpoint closed, got %v", st)
	}
}

func TestRegistryBulkhead(t *testing.T) {
	r := newTestRegistry(2)

	bh := r.BulkheadFor("POST /workorders")
	if bh == nil {
		t.Fatal("expected bulkhead when MaxConcurrent > 0")
	}
	if !bh.TryAcquire() || !bh.TryAcquire() {
		t.Fatal("expected 2 slots")
	}
	if bh.TryAcquire() {
		t.Fatal("expected rejection at capacity")
	}
	bh.Release()
	if !bh.TryAcquire() {
		t.Fatal("expected slot after release")
	}
	bh.Release()
	bh.Release()

	if newTestRegistry(0).BulkheadFor("POST /workorders") != nil {
		t.Fatal("expected nil bulkhead when disabled")
	}
}

func TestRegistryUpdateConfig(t *testing.T) {
	r := newTestRegistry(0)
	b := r.For("GET /workorders")

	// Lower the threshold; existing breakers must pick it up.
	cfg := r.cfg
	cfg.FailureThreshold = 2
	r.UpdateConfig(cfg)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open at updated threshold, got %v", b.State())
	}

	// New endpoints inherit the updated settings too.
	nb := r.For("GET /assets")
	nb.RecordFailure()
	nb.RecordFailure()
	if nb.State() != StateOpen {
		t.Fatalf("expected new breaker to use updated threshold, got %v", nb.State())
	}
}
