package perf

import (
	"testing"

	"memoengine/internal/cycledag"
)

func TestDisabledCountersAreNoOps(t *testing.T) {
	c := New(cycledag.New())
	c.RecordRestored()
	c.RecordComputed()
	c.RecordTraversedEdges(5)
	c.RecordCyclePath()

	r := c.ReportForCurrentRun()
	if r != (Report{}) {
		t.Fatalf("expected all-zero report while disabled, got %+v", r)
	}
}

func TestEnabledCountersAccumulate(t *testing.T) {
	g := cycledag.New()
	c := New(g)
	c.Enable(true)

	c.RecordRestored()
	c.RecordRestored()
	c.RecordComputed()
	c.RecordTraversedEdges(4)
	c.RecordCyclePath()

	g.AddEdge(1, 2)
	g.AddEdge(2, 3)

	r := c.ReportForCurrentRun()
	if r.Restored != 2 || r.Computed != 1 || r.TraversedEdges != 4 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.CyclePaths != 1 {
		t.Fatalf("unexpected cycle path count: %+v", r)
	}
	if r.CycleNodes != int64(g.Stats().Nodes) || r.CycleEdges != int64(g.Stats().Edges) {
		t.Fatalf("expected cycle node/edge counts to mirror the graph live, got %+v vs %+v", r, g.Stats())
	}
}

func TestResetZeroesRunScopedCountersButNotCycleGraph(t *testing.T) {
	g := cycledag.New()
	c := New(g)
	c.Enable(true)
	c.RecordRestored()
	c.RecordComputed()
	g.AddEdge(1, 2)
	c.Reset()

	r := c.ReportForCurrentRun()
	if r.Restored != 0 || r.Computed != 0 || r.CyclePaths != 0 {
		t.Fatalf("expected run-scoped counters zeroed after Reset, got %+v", r)
	}
	// perf.Reset only resets its own counters; resetting the cycle graph
	// at a run boundary is internal/runctl's job (it owns the Graph).
	if r.CycleNodes != int64(g.Stats().Nodes) {
		t.Fatalf("expected cycle node count still mirrored from the graph, got %+v", r)
	}
}

func TestAssertInvariantsDetectsMismatch(t *testing.T) {
	c := New(cycledag.New())
	c.Enable(true)
	c.RecordRestored()
	c.RecordComputed()
	c.RecordTraversedEdges(1)

	if err := c.AssertInvariants(2, 1); err != nil {
		t.Fatalf("expected invariants to hold, got %v", err)
	}
	if err := c.AssertInvariants(3, 1); err == nil {
		t.Fatalf("expected touched-cell mismatch to be reported")
	}
	if err := c.AssertInvariants(2, 5); err == nil {
		t.Fatalf("expected traversed-edges-too-low to be reported")
	}
}
