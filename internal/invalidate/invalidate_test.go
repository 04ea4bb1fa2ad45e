package invalidate

import "testing"

type fakeTarget struct {
	cells      []uint64
	funcs      []uint64
	clearCalls int
}

func (f *fakeTarget) InvalidateCell(id uint64)     { f.cells = append(f.cells, id) }
func (f *fakeTarget) InvalidateFunction(id uint64) { f.funcs = append(f.funcs, id) }
func (f *fakeTarget) ClearAll()                    { f.clearCalls++ }

func TestZeroValueIsEmptyNoOp(t *testing.T) {
	var inv Invalidation
	if !inv.IsEmpty() {
		t.Fatalf("zero value Invalidation should be empty")
	}
	f := &fakeTarget{}
	inv.Apply(f)
	if len(f.cells) != 0 || len(f.funcs) != 0 || f.clearCalls != 0 {
		t.Fatalf("zero value Invalidation should be a no-op, got %+v", f)
	}
}

func TestOfCellAppliesOnlyToThatCell(t *testing.T) {
	f := &fakeTarget{}
	OfCell(42).Apply(f)
	if len(f.cells) != 1 || f.cells[0] != 42 {
		t.Fatalf("expected cell 42 invalidated, got %+v", f.cells)
	}
	if len(f.funcs) != 0 || f.clearCalls != 0 {
		t.Fatalf("OfCell should not touch functions or clear-all, got %+v", f)
	}
}

func TestCombineIsAssociativeAndCommutative(t *testing.T) {
	a := OfCell(1)
	b := OfFunction(2)
	c := OfCell(3)

	left := Combine(Combine(a, b), c)
	right := Combine(a, Combine(b, c))
	shuffled := Combine(c, a, b)

	for _, inv := range []Invalidation{left, right, shuffled} {
		f := &fakeTarget{}
		inv.Apply(f)
		if len(f.cells) != 2 || len(f.funcs) != 1 {
			t.Fatalf("expected 2 cell invalidations and 1 function invalidation, got %+v", f)
		}
	}
}

func TestClearCachesAppliesClearAll(t *testing.T) {
	f := &fakeTarget{}
	inv := Combine(OfCell(1), ClearCaches(), OfFunction(2))
	inv.Apply(f)
	if f.clearCalls != 1 {
		t.Fatalf("expected ClearAll invoked once, got %d", f.clearCalls)
	}
	// Combine doesn't need to short-circuit sibling effects for Apply's
	// contract to hold; what matters is ClearAll was in fact applied.
}

func TestCombineEmptyIsEmpty(t *testing.T) {
	if !Combine().IsEmpty() {
		t.Fatalf("Combine() with no args should be empty")
	}
	if !Combine(Empty(), Empty()).IsEmpty() {
		t.Fatalf("Combine of only empties should be empty")
	}
}

func TestCombineSingleReturnsSameShape(t *testing.T) {
	a := OfCell(7)
	got := Combine(a)
	f := &fakeTarget{}
	got.Apply(f)
	if len(f.cells) != 1 || f.cells[0] != 7 {
		t.Fatalf("Combine of a single invalidation changed its effect: %+v", f)
	}
}
