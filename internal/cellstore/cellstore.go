// Package cellstore interns Cells by input, one Store per Function
// (spec.md §3, §4.4): the first Exec for a given input creates the Cell,
// every later Exec for the same input reuses it.
//
// Grounded on scriptweaver/internal/dag.TaskGraph's nodesByName map, adapted
// from a batch-built, read-only index into a lazily-growing one guarded by
// its own mutex, since cells are created on demand as Exec calls arrive
// rather than all up front from a parsed task list.
package cellstore

import (
	"sync"

	"memoengine/internal/idgen"
	"memoengine/internal/node"
)

// Key identifies one cell within a Store. Plain functions use their input
// value directly as K. Polymorphic functions (spec.md §4.6) use Key as K,
// pairing a variant tag with its payload so two variants that happen to
// carry equal payloads never collide.
type Key struct {
	Variant string
	Payload any
}

// VariantName returns the tag identifying which underlying type Payload
// holds, letting callers outside this package recover a polymorphic
// Function's variant witness from a plain Key value.
func (k Key) VariantName() string { return k.Variant }

// Store interns Cell[O] values by key K for a single Function. K must be
// comparable; for polymorphic functions that means every variant's payload
// must itself be comparable, matching spec.md's requirement that a
// Function's input support equality.
type Store[K comparable, O any] struct {
	funcID uint64
	name   string
	cutoff func(a, b O) bool

	mu    sync.Mutex
	cells map[K]*node.Cell[O]
}

// New returns an empty Store for one Function. funcID is the id
// invalidate_function targets; name and cutoff are applied to every Cell
// this Store creates.
func New[K comparable, O any](funcID uint64, name string, cutoff func(a, b O) bool) *Store[K, O] {
	return &Store[K, O]{
		funcID: funcID,
		name:   name,
		cutoff: cutoff,
		cells:  make(map[K]*node.Cell[O]),
	}
}

// FuncID returns the Function id this Store was created for.
func (s *Store[K, O]) FuncID() uint64 { return s.funcID }

// Intern returns the Cell for key, creating it via ids/body if this is the
// first time key has been seen. body is only used on creation; an already
// existing Cell keeps whatever body it was created with (inputs are
// immutable once a Cell exists, so the body closure bound to that input
// never needs to change).
func (s *Store[K, O]) Intern(ids *idgen.Generator, key K, input any, asInstanceOf string, body node.Body[O]) (cell *node.Cell[O], created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cells[key]; ok {
		return c, false
	}
	c := node.New(ids.Next(), s.name, input, asInstanceOf, s.cutoff, body)
	s.cells[key] = c
	return c, true
}

// IdentityHash returns the (name, input) fingerprint for key's cell, for
// log correlation; ok is false if key was never interned. The digest
// itself is computed once by node.Cell at creation (internal/node owns
// identityHash); this just forwards to it.
func (s *Store[K, O]) IdentityHash(key K) (hash uint64, ok bool) {
	s.mu.Lock()
	c, ok := s.cells[key]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return c.IdentityHash(), true
}

// Lookup returns the Cell for key without creating one, reporting whether
// it already existed (previously_evaluated_cell's "never called" case).
func (s *Store[K, O]) Lookup(key K) (*node.Cell[O], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[key]
	return c, ok
}

// InvalidateCell marks the single cell at key for forced recompute, if it
// exists. A key never seen is a silent no-op, matching invalidate_cell's
// contract on a cell that was never created.
func (s *Store[K, O]) InvalidateCell(key K) {
	s.mu.Lock()
	c, ok := s.cells[key]
	s.mu.Unlock()
	if ok {
		c.MarkForRecompute()
	}
}

// InvalidateAll forces every cell ever interned in this Store to recompute,
// implementing invalidate_function's effect restricted to one Function.
func (s *Store[K, O]) InvalidateAll() {
	s.mu.Lock()
	cells := make([]*node.Cell[O], 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.Unlock()
	for _, c := range cells {
		c.MarkForRecompute()
	}
}

// ClearAll drops every cell's cached result entirely, implementing
// clear_caches restricted to one Function.
func (s *Store[K, O]) ClearAll() {
	s.mu.Lock()
	cells := make([]*node.Cell[O], 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.Unlock()
	for _, c := range cells {
		c.ClearAll()
	}
}

// Len reports how many distinct inputs have ever been interned, for tests
// and introspection.
func (s *Store[K, O]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cells)
}
