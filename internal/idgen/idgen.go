// Package idgen allocates globally unique cell ids and carries the
// per-run call stack used for diagnostics and cycle reporting.
package idgen

import (
	"context"
	"sync/atomic"
)

// Generator hands out monotonically increasing, never-reused ids.
//
// The zero value is ready to use and behaves the same as New.
type Generator struct {
	next atomic.Uint64
}

// New returns a fresh Generator starting at id 1 (0 is reserved to mean
// "no id" in callers that store ids in plain structs).
func New() *Generator {
	return &Generator{}
}

// Next returns the next unique id.
func (g *Generator) Next() uint64 {
	return g.next.Add(1)
}

// Frame is one entry in the active call stack: the function name and the
// input that's being evaluated, plus an optional witness naming which
// variant of a polymorphic function's input this is (see §4.6).
type Frame struct {
	Name         string
	Input        any
	AsInstanceOf string
}

// The call stack travels on context.Context rather than as a shared mutable
// structure: fork_and_join spawns real goroutines for independent branches
// (internal/sched.ForkAndJoin), and each branch must see the frames pushed
// by its ancestors without being able to observe or corrupt a sibling's
// pushes. WithFrame therefore always copies, the same "append, don't
// mutate" discipline internal/node's recorder uses for deps.

type stackKey struct{}

// WithFrame returns a context with f pushed onto the active call stack,
// innermost last. The original ctx (and whatever stack it carried) is left
// untouched, so a caller that forks into two branches can hand the same
// parent ctx to both without one branch's pushes leaking into the other.
func WithFrame(ctx context.Context, f Frame) context.Context {
	cur, _ := ctx.Value(stackKey{}).([]Frame)
	next := make([]Frame, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = f
	return context.WithValue(ctx, stackKey{}, next)
}

// StackFrom returns the call stack active in ctx, innermost last, or nil if
// ctx carries none (a top-level Exec with no enclosing frame).
func StackFrom(ctx context.Context) []Frame {
	cur, _ := ctx.Value(stackKey{}).([]Frame)
	return append([]Frame(nil), cur...)
}
