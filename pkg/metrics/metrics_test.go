package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveInvokeLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg), WithNamespace("test"))

	c.ObserveInvokeLatency("echo", 0.01, true)
	c.ObserveInvokeLatency("echo", 0.02, false)

	got := testutil.ToFloat64(c.invokeTotal.WithLabelValues("echo", "ok"))
	if got != 1 {
		t.Fatalf("invokeTotal{ok}=%v, want 1", got)
	}
	got = testutil.ToFloat64(c.invokeTotal.WithLabelValues("echo", "error"))
	if got != 1 {
		t.Fatalf("invokeTotal{error}=%v, want 1", got)
	}
}

func TestCountersAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg), WithNamespace("test2"))

	c.IncBadConnection()
	c.IncBadConnection()
	c.SetActiveStreams(3)
	c.IncInvalidMessage()

	if got := testutil.ToFloat64(c.badConnections); got != 2 {
		t.Fatalf("badConnections=%v, want 2", got)
	}
	if got := testutil.ToFloat64(c.activeStreams); got != 3 {
		t.Fatalf("activeStreams=%v, want 3", got)
	}
	if got := testutil.ToFloat64(c.invalidMessages); got != 1 {
		t.Fatalf("invalidMessages=%v, want 1", got)
	}
}

func TestNewRegistersUnderDistinctRegistries(t *testing.T) {
	// Two independent registries must tolerate two Collectors with the
	// same namespace without a duplicate-registration panic.
	r1, r2 := prometheus.NewRegistry(), prometheus.NewRegistry()
	New(WithRegistry(r1), WithNamespace("dup"))
	New(WithRegistry(r2), WithNamespace("dup"))
}
