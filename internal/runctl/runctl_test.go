package runctl

import (
	"testing"

	"memoengine/internal/cycledag"
	"memoengine/internal/invalidate"
	"memoengine/internal/perf"

	"go.uber.org/zap"
)

type fakeCell struct {
	marked  bool
	cleared bool
}

func (f *fakeCell) MarkForRecompute()    { f.marked = true }
func (f *fakeCell) ClearAll()            { f.cleared = true }
func (f *fakeCell) IdentityHash() uint64 { return 0xdead }

type fakeFunc struct {
	invalidatedAll bool
	cleared        bool
}

func (f *fakeFunc) InvalidateAll() { f.invalidatedAll = true }
func (f *fakeFunc) ClearAll()      { f.cleared = true }

func newTestController() *Controller {
	cycle := cycledag.New()
	return New(cycle, perf.New(cycle), zap.NewNop())
}

func TestAdvanceBumpsSeqAndRunID(t *testing.T) {
	c := newTestController()
	r0 := c.CurrentRunID()
	if r0.Seq != 0 {
		t.Fatalf("expected run 0 before first Advance, got %d", r0.Seq)
	}

	r1 := c.Advance()
	if r1.Seq != 1 {
		t.Fatalf("expected seq 1 after first Advance, got %d", r1.Seq)
	}
	r2 := c.Advance()
	if r2.Seq != 2 {
		t.Fatalf("expected seq 2 after second Advance, got %d", r2.Seq)
	}
	if r1.ID == r2.ID {
		t.Fatalf("expected distinct run UUIDs across Advance calls")
	}
}

func TestInvalidateCellForwardsToRegisteredTarget(t *testing.T) {
	c := newTestController()
	cell := &fakeCell{}
	c.RegisterCell(1, cell)

	c.InvalidateCell(1)
	if !cell.marked {
		t.Fatalf("expected registered cell to be marked for recompute")
	}

	// An id never registered is a silent no-op, not a panic.
	c.InvalidateCell(999)
}

func TestInvalidateFunctionForwardsToRegisteredTarget(t *testing.T) {
	c := newTestController()
	fn := &fakeFunc{}
	c.RegisterFunction(10, fn)

	c.InvalidateFunction(10)
	if !fn.invalidatedAll {
		t.Fatalf("expected registered function to have InvalidateAll called")
	}

	c.InvalidateFunction(999)
}

func TestClearAllClearsEveryRegisteredFunction(t *testing.T) {
	c := newTestController()
	fn1 := &fakeFunc{}
	fn2 := &fakeFunc{}
	c.RegisterFunction(1, fn1)
	c.RegisterFunction(2, fn2)

	c.ClearAll()
	if !fn1.cleared || !fn2.cleared {
		t.Fatalf("expected ClearAll to clear every registered function, got %+v %+v", fn1, fn2)
	}
}

func TestResetAppliesInvalidation(t *testing.T) {
	c := newTestController()
	cell := &fakeCell{}
	c.RegisterCell(5, cell)

	c.Reset(invalidate.OfCell(5))
	if !cell.marked {
		t.Fatalf("expected Reset to apply the invalidation against the controller")
	}
}
