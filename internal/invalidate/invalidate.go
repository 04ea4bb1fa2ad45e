// Package invalidate implements the composable invalidation values of
// spec.md §4.5: empty, a single cell, a whole function's cells, or a full
// clear-caches, combined associatively and commutatively.
package invalidate

// Target receives the effects of an Invalidation when it is applied at a
// run boundary (spec.md: "Applied only inside reset(inv) between runs").
// internal/runctl implements Target by forwarding to the cell store and
// cycle-detection graph.
type Target interface {
	InvalidateCell(id uint64)
	InvalidateFunction(funcID uint64)
	ClearAll()
}

// kind discriminates the handful of invalidation shapes. It is unexported:
// callers build values only through the constructors below, so the zero
// value (kindEmpty, the zero of kind) is always a valid, no-op Invalidation.
type kind int

const (
	kindEmpty kind = iota
	kindCell
	kindFunction
	kindClearCaches
	kindCombine
)

// Invalidation is an immutable, composable description of what to
// invalidate at the next run boundary.
type Invalidation struct {
	kind     kind
	cellID   uint64
	funcID   uint64
	children []Invalidation
}

// Empty is the no-op invalidation; combining it with anything is a no-op
// identity.
func Empty() Invalidation {
	return Invalidation{kind: kindEmpty}
}

// OfCell invalidates a single cell by id.
func OfCell(id uint64) Invalidation {
	return Invalidation{kind: kindCell, cellID: id}
}

// OfFunction invalidates every cell ever created for the named function.
func OfFunction(funcID uint64) Invalidation {
	return Invalidation{kind: kindFunction, funcID: funcID}
}

// ClearCaches drops every cell's cached result and resets the cycle
// detector entirely.
func ClearCaches() Invalidation {
	return Invalidation{kind: kindClearCaches}
}

// Combine unions any number of invalidations. Combine is associative and
// commutative: applying Combine(a, b) has the same effect regardless of
// argument order or how the combination is nested.
func Combine(invs ...Invalidation) Invalidation {
	if len(invs) == 0 {
		return Empty()
	}
	if len(invs) == 1 {
		return invs[0]
	}
	return Invalidation{kind: kindCombine, children: invs}
}

// Apply forwards this invalidation's effect to t. A clear_caches anywhere
// in the combined tree short-circuits the rest of the tree, since clearing
// everything subsumes any more specific invalidation.
func (inv Invalidation) Apply(t Target) {
	switch inv.kind {
	case kindEmpty:
		return
	case kindCell:
		t.InvalidateCell(inv.cellID)
	case kindFunction:
		t.InvalidateFunction(inv.funcID)
	case kindClearCaches:
		t.ClearAll()
	case kindCombine:
		for _, child := range inv.children {
			child.Apply(t)
		}
	}
}

// IsEmpty reports whether applying inv would have no effect at all.
func (inv Invalidation) IsEmpty() bool {
	switch inv.kind {
	case kindEmpty:
		return true
	case kindCombine:
		for _, child := range inv.children {
			if !child.IsEmpty() {
				return false
			}
		}
		return true
	default:
		return false
	}
}
