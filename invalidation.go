package memo

import "memoengine/internal/invalidate"

// EmptyInvalidation is the no-op Invalidation (spec.md §6 Invalidation.empty).
func EmptyInvalidation() Invalidation { return invalidate.Empty() }

// CombineInvalidations unions any number of Invalidations, associatively
// and commutatively (spec.md §6 Invalidation.combine).
func CombineInvalidations(invs ...Invalidation) Invalidation {
	return invalidate.Combine(invs...)
}

// ClearCaches drops every cell's cached result across every Function
// registered on the target Engine, and resets the cycle detector entirely
// (spec.md §6 Invalidation.clear_caches).
func ClearCaches() Invalidation { return invalidate.ClearCaches() }
