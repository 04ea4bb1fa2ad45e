package memo

import (
	"context"

	"memoengine/internal/cellstore"
	"memoengine/internal/idgen"
	"memoengine/internal/invalidate"
	"memoengine/internal/node"
	"memoengine/internal/sched"
)

// Dep is one entry of a cell's recorded dependency list (spec.md §6
// get_deps's [(name?, input_dyn)]).
type Dep = node.Dep

// Body is the computation a Function runs for a given input, already
// carrying the active Engine's context capabilities (spec.md §3 "body:
// I -> Task<O>").
type Body[I comparable, O any] func(ctx context.Context, input I) (O, error)

// Function is a named, memoized computation keyed by input (spec.md §3's
// F<I,O>). Construct one with Create, or with NewHandle+Install for a
// self-referential body (spec.md §9).
type Function[I comparable, O any] struct {
	id     uint64
	name   string
	cutoff func(a, b O) bool
	body   Body[I, O]
	engine *Engine
	store  *cellstore.Store[I, O]
}

// NewHandle allocates a Function's identity and cell store without
// installing its body yet, so the body's own closure can reference the
// handle (spec.md §9: "allocate a function handle, then install the
// body; the handle can be captured in the body's closure before
// install" — needed for a function that calls itself).
func NewHandle[I comparable, O any](e *Engine, name string, cutoff func(a, b O) bool) *Function[I, O] {
	id := e.nextID()
	f := &Function[I, O]{id: id, name: name, cutoff: cutoff, engine: e}
	f.store = cellstore.New[I, O](id, name, cutoff)
	e.runs.RegisterFunction(id, f.store)
	return f
}

// Install attaches body to a Function allocated with NewHandle. Calling
// Install more than once, or calling Exec before Install, is a misuse the
// engine does not guard against (mirrors the two-step builder's contract:
// the handle is a forward declaration, not a reusable rebind point).
func (f *Function[I, O]) Install(body Body[I, O]) { f.body = body }

// Create allocates and installs body in one step, for the common case of
// a non-recursive function (spec.md §6 create(name, input_ops, [cutoff],
// body) -> F).
func Create[I comparable, O any](e *Engine, name string, cutoff func(a, b O) bool, body Body[I, O]) *Function[I, O] {
	f := NewHandle[I, O](e, name, cutoff)
	f.Install(body)
	return f
}

// ID returns the Function's unique id, the target of InvalidateFunction.
func (f *Function[I, O]) ID() uint64 { return f.id }

func (f *Function[I, O]) intern(input I) *node.Cell[O] {
	asInstanceOf := ""
	if vn, ok := any(input).(variantNamer); ok {
		asInstanceOf = vn.VariantName()
	}

	c, created := f.store.Intern(f.engine.ids, input, input, asInstanceOf, func(ctx context.Context) (O, error) {
		return f.body(ctx, input)
	})
	if created {
		f.engine.registerFrame(c.ID(), idgen.Frame{Name: f.name, Input: input, AsInstanceOf: asInstanceOf})
		f.engine.runs.RegisterCell(c.ID(), c)
	}
	return c
}

// Exec returns the Task that evaluates f at input, restoring the cached
// result when still valid or running the body otherwise (spec.md §6
// exec(F, input) -> Task<Output>). Calling Exec from inside another
// Function's body records the dependency edge in call order, duplicates
// included (spec.md §5).
func (f *Function[I, O]) Exec(input I) sched.Task[O] {
	return func(ctx context.Context) (O, error) {
		cell := f.intern(input)
		callerID := node.CallerID(ctx)

		v, lcr, err := cell.EnsureCurrent(ctx, f.engine, callerID)
		if err != nil {
			var zero O
			return zero, wrapError(ctx, err)
		}

		cellID := cell.ID()
		node.RecordDependency(ctx, f.name, input, cellID, lcr,
			func(innerCtx context.Context, innerCaller uint64) (uint64, error) {
				_, innerLCR, innerErr := cell.EnsureCurrent(innerCtx, f.engine, innerCaller)
				return innerLCR, innerErr
			})
		return v, nil
	}
}

// wrapError adds the active call stack to a body failure the first time it
// surfaces through Exec (spec.md §6 Error(inner, stack)); a cycle is
// already self-describing and is passed through unwrapped.
func wrapError(ctx context.Context, err error) error {
	if _, isCycle := err.(*CycleError); isCycle {
		return err
	}
	if _, alreadyWrapped := err.(*EngineError); alreadyWrapped {
		return err
	}
	return &EngineError{Inner: err, Stack: idgen.StackFrom(ctx)}
}

// CellHandle names one (Function, input) cell without necessarily having
// evaluated it yet (spec.md §6 Cell).
type CellHandle[I comparable, O any] struct {
	fn    *Function[I, O]
	input I
}

// Cell interns the cell for (f, input), creating it if this is the first
// time input has been seen (spec.md §4.4 cell(f,i), §6 cell(F,input)).
func (f *Function[I, O]) Cell(input I) CellHandle[I, O] {
	f.intern(input)
	return CellHandle[I, O]{fn: f, input: input}
}

// Read evaluates the cell the same way Exec would (spec.md §6 Cell.read).
func (h CellHandle[I, O]) Read() sched.Task[O] { return h.fn.Exec(h.input) }

// Invalidate returns an Invalidation targeting this one cell (spec.md §6
// Cell.invalidate). Apply it via Reset.
func (h CellHandle[I, O]) Invalidate() Invalidation {
	c := h.fn.intern(h.input)
	return invalidate.OfCell(c.ID())
}

// PreviouslyEvaluatedCell looks up the cell for (f, input) without
// creating it, returning ok=false if it has never completed a run (spec.md
// §4.4, §6 previously_evaluated_cell -> Option<Cell>).
func PreviouslyEvaluatedCell[I comparable, O any](f *Function[I, O], input I) (CellHandle[I, O], bool) {
	c, ok := f.store.Lookup(input)
	if !ok || !c.PreviouslyEvaluated() {
		return CellHandle[I, O]{}, false
	}
	return CellHandle[I, O]{fn: f, input: input}, true
}

// GetDeps returns the dependency list recorded during f(input)'s last
// successful compute, in call order with duplicates retained, or ok=false
// if the cell has never completed (spec.md §6 get_deps).
func GetDeps[I comparable, O any](f *Function[I, O], input I) (deps []Dep, ok bool) {
	c, exists := f.store.Lookup(input)
	if !exists || !c.PreviouslyEvaluated() {
		return nil, false
	}
	return c.DepsSnapshot(), true
}

// InvalidateFunction returns an Invalidation marking every cell ever
// created for f (spec.md §4.4 invalidate_cache(f)).
func InvalidateFunction[I comparable, O any](f *Function[I, O]) Invalidation {
	return invalidate.OfFunction(f.id)
}
