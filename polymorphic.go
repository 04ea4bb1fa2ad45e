package memo

import "memoengine/internal/cellstore"

// PolyKey is the input type for a polymorphic Function (spec.md §4.6): a
// tagged union over heterogeneous underlying payloads, keyed by variant so
// two variants whose payloads happen to be equal never collide in the
// same cell store. Payload must be comparable, the same requirement an
// ordinary Function's plain input has.
type PolyKey = cellstore.Key

// CreatePolymorphic builds a Function whose input is a tagged variant
// (spec.md §4.6 "a type-id witness per variant ... keys on (type-id,
// payload)"). Function.intern reads PolyKey.Variant as the cell's
// Frame.AsInstanceOf witness via the variantNamer interface below, so
// cycle paths and get_call_stack can report which underlying type was in
// play at each frame.
func CreatePolymorphic[O any](e *Engine, name string, cutoff func(a, b O) bool, body Body[PolyKey, O]) *Function[PolyKey, O] {
	f := NewHandle[PolyKey, O](e, name, cutoff)
	f.Install(body)
	return f
}

// variantNamer is implemented by PolyKey (cellstore.Key) so Function.intern
// can recover a variant witness from an arbitrary input type I without
// needing generics-of-generics: plain inputs simply don't implement it.
type variantNamer interface {
	VariantName() string
}
