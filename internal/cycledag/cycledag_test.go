package cycledag

import "testing"

func TestAddEdgeNoCycle(t *testing.T) {
	g := New()
	if err := g.AddEdge(1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddEdge(2, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := g.Stats()
	if st.Edges != 2 {
		t.Fatalf("expected 2 edges, got %d", st.Edges)
	}
}

func TestAddEdgeDetectsDirectCycle(t *testing.T) {
	g := New()
	if err := g.AddEdge(1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := g.AddEdge(2, 1)
	if err == nil {
		t.Fatalf("expected a cycle error")
	}
	ce, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(ce.Path) == 0 || ce.Path[0] != 2 || ce.Path[len(ce.Path)-1] != 1 {
		t.Fatalf("unexpected cycle path: %v", ce.Path)
	}
}

func TestAddEdgeDetectsTransitiveCycle(t *testing.T) {
	g := New()
	mustAdd := func(caller, callee uint64) {
		t.Helper()
		if err := g.AddEdge(caller, callee); err != nil {
			t.Fatalf("AddEdge(%d,%d): unexpected error %v", caller, callee, err)
		}
	}
	mustAdd(1, 2)
	mustAdd(2, 3)

	err := g.AddEdge(3, 1)
	if err == nil {
		t.Fatalf("expected transitive cycle to be detected")
	}
	ce := err.(*CycleError)
	if ce.Path[0] != 1 || ce.Path[len(ce.Path)-1] != 3 {
		t.Fatalf("unexpected path endpoints: %v", ce.Path)
	}
}

func TestAddEdgeToCompletedNodeNeverCycles(t *testing.T) {
	g := New()
	g.MarkCompleted(2)
	// 1 -> 2 where 2 already finished: can never close a cycle even if
	// 2 had previously depended on 1 (it already settled, so it cannot
	// still be waiting on anything).
	if err := g.AddEdge(1, 2); err != nil {
		t.Fatalf("unexpected error for edge into completed node: %v", err)
	}
}

func TestResetClearsGraphForNewRun(t *testing.T) {
	g := New()
	if err := g.AddEdge(1, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.Reset()

	st := g.Stats()
	if st.Nodes != 0 || st.Edges != 0 {
		t.Fatalf("expected stats reset, got %+v", st)
	}
	// The edge that would have formed a cycle in the old run is fine now.
	if err := g.AddEdge(2, 1); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCycleErrorMessageFormat(t *testing.T) {
	ce := &CycleError{Path: []uint64{3, 1}}
	want := "cycle: 3 -> 1"
	if got := ce.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
