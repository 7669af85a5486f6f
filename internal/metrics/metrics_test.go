package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.Search(false, 0.001)
	r.Search(true, 0.002)
	r.Assigned("greedy")
	r.Assigned("greedy")
	r.Held("low_confidence")
	r.BatchFallback()
	r.QueueOverflow()
	r.Suppressed(2)
	r.LedgerRejected("quantity_exceeded")
	r.LedgerState(7, true)
	r.Weights(0.6, 0.25, 0.15)

	if got := testutil.ToFloat64(r.searches); got != 2 {
		t.Fatalf("expected 2 searches, got %v", got)
	}
	if got := testutil.ToFloat64(r.stage2); got != 1 {
		t.Fatalf("expected 1 stage2, got %v", got)
	}
	if got := testutil.ToFloat64(r.assignments.WithLabelValues("greedy")); got != 2 {
		t.Fatalf("expected 2 greedy assignments, got %v", got)
	}
	if got := testutil.ToFloat64(r.suppressed); got != 2 {
		t.Fatalf("expected 2 suppressed, got %v", got)
	}
	if got := testutil.ToFloat64(r.ledgerHalted); got != 1 {
		t.Fatalf("expected halted gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(r.weights.WithLabelValues("meta")); got != 0.25 {
		t.Fatalf("expected meta weight 0.25, got %v", got)
	}
}

func TestSessionsUseSeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	a := New(prometheus.NewRegistry())
	b := New(nil)
	a.FalsePositive()
	if got := testutil.ToFloat64(b.falsePos); got != 0 {
		t.Fatalf("expected isolated counters, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Search(true, 1)
	r.Assigned("x")
	r.Held("y")
	r.LedgerState(1, false)
	r.Weights(1, 1, 1)
}
