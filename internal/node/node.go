// Package node implements the per-cell restore/compute state machine that
// is the heart of the engine (spec.md §4.2): for each run, a cell either
// proves its cached result still valid (restore) or re-executes its body
// (compute), recording the dependencies it consulted along the way.
package node

import (
	"context"
	"fmt"
	"sync"

	"memoengine/internal/cycledag"
	"memoengine/internal/idgen"
	"memoengine/internal/perf"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// identityHash fingerprints (name, input) the way scriptweaver/internal/
// dag/taskdef_hash.go fingerprints a task definition: every field is
// length-prefixed before being fed to the digest so "a","bc" and "ab","c"
// never collide. xxhash replaces that file's sha256 because this digest is
// an internal correlation id for logs, not a content-addressed artifact
// key — a fast non-cryptographic hash is the right tool.
func identityHash(name string, input any) uint64 {
	d := xxhash.New()
	writeField := func(s string) {
		var lenBuf [8]byte
		n := uint64(len(s))
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (56 - 8*i))
		}
		d.Write(lenBuf[:])
		d.Write([]byte(s))
	}
	writeField(name)
	writeField(fmt.Sprintf("%#v", input))
	return d.Sum64()
}

// Host is everything a Cell needs from its owning engine. It is an
// interface (rather than a concrete *memo.Engine) so this package never
// imports the root package — the root package imports this one instead,
// the same leaves-first layering scriptweaver/internal/dag.TaskGraph
// follows relative to internal/core.
type Host interface {
	Scheduler() Scheduler
	Cycle() *cycledag.Graph
	CurrentRun() uint64
	Perf() *perf.Counters
	Logger() *zap.Logger
	FrameFor(cellID uint64) (idgen.Frame, bool)
}

// Scheduler is the minimal surface of internal/sched.Scheduler this
// package needs; declared locally to avoid a direct dependency cycle risk
// and kept identical in shape to sched.Scheduler.
type Scheduler interface {
	Acquire(ctx context.Context) error
	Release()
}

// cachedKind discriminates a cell's cached slot (spec.md §3 Cell.cached).
type cachedKind int

const (
	unevaluated cachedKind = iota
	cachedOk
	cachedError
)

// NonReproducible is the wrapper user code raises to mark a failure as not
// guaranteed to recur. The engine strips this wrapper before surfacing the
// error but remembers the flag (spec.md §7).
type NonReproducible struct{ Inner error }

func (e *NonReproducible) Error() string { return e.Inner.Error() }
func (e *NonReproducible) Unwrap() error { return e.Inner }

// CycleError is the engine-level view of a detected dependency cycle: the
// path of frames callee -> ... -> caller (spec.md §4.3, §6).
type CycleError struct {
	Path []idgen.Frame
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "cycle detected"
	}
	s := "cycle detected: "
	for i, f := range e.Path {
		if i > 0 {
			s += " -> "
		}
		s += fmt.Sprintf("%s(%v)", f.Name, f.Input)
	}
	return s
}

// EngineError wraps a body's failure with the call stack active when it
// was raised (spec.md §6).
type EngineError struct {
	Inner error
	Stack []idgen.Frame
}

func (e *EngineError) Error() string { return e.Inner.Error() }
func (e *EngineError) Unwrap() error { return e.Inner }

// depEdge is one recorded dependency: the cell depended on, the run in
// which its output last changed at the time it was recorded, and a
// type-erased closure that re-validates it on a later restore attempt.
// The closure is what lets a Cell[O] hold dependencies of any other
// output type without this package needing generics-of-generics.
type depEdge struct {
	cellID                 uint64
	name                   string
	inputDyn               any
	lastChangedRunAtRecord uint64
	ensure                 func(ctx context.Context, callerID uint64) (uint64, error)
}

// Body is the user-supplied computation for a cell, already bound to its
// specific input. compute pushes this cell's Frame onto the call stack in
// ctx before running it.
type Body[O any] func(ctx context.Context) (O, error)

// Cell is the cache entry for one (function, input) call (spec.md §3).
//
// All mutable state is guarded by mu; mu is held only for bookkeeping
// (state transitions, storing the recorded dependencies) and always
// released before running the user's Body, matching scriptweaver/internal/
// dag.Executor's "lock, decide, unlock, work outside the lock" pattern.
type Cell[O any] struct {
	id           uint64
	name         string
	input        any
	asInstanceOf string // witness naming which variant of a polymorphic function this is, or ""
	identHash    uint64 // identityHash(name, input), fixed at construction; used only for log correlation

	mu               sync.Mutex
	kind             cachedKind
	okValue          O
	errValue         error
	errReproducible  bool
	lastValidatedRun uint64 // 0 means never validated
	lastChangedRun   uint64
	deps             []depEdge
	forceRecompute   bool

	runID    uint64 // run this transient state applies to
	running  bool   // true while in-flight (Restoring or Computing) this run
	barrier  chan struct{}
	cutoff   func(a, b O) bool
	body     Body[O]
}

// New creates a Cell for (name, input), not yet evaluated. asInstanceOf is
// the polymorphic-variant witness (spec.md §4.6), or "" for an ordinary
// function.
func New[O any](id uint64, name string, input any, asInstanceOf string, cutoff func(a, b O) bool, body Body[O]) *Cell[O] {
	return &Cell[O]{
		id: id, name: name, input: input, asInstanceOf: asInstanceOf,
		identHash: identityHash(name, input),
		cutoff:    cutoff, body: body,
	}
}

// ID returns the cell's globally unique id.
func (c *Cell[O]) ID() uint64 { return c.id }

// IdentityHash returns the (name, input) fingerprint computed when this
// cell was created, for log correlation (internal/cellstore.Store.
// IdentityHash and internal/runctl's invalidation log lines both forward
// to this).
func (c *Cell[O]) IdentityHash() uint64 { return c.identHash }

// MarkForRecompute clears validation so the next time the cell is visited
// in a later run it computes instead of restoring (a cell already settled
// in the current run keeps returning its settled value), without
// discarding the cached value entirely
// (spec.md §4.5 "invalidate_cache" / single-cell invalidation).
func (c *Cell[O]) MarkForRecompute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastValidatedRun = 0
	c.forceRecompute = true
}

// ClearAll drops the cached result entirely, so PreviouslyEvaluated
// reports false afterwards (spec.md §4.5 "clear_caches").
func (c *Cell[O]) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zeroO O
	c.kind = unevaluated
	c.okValue = zeroO
	c.errValue = nil
	c.errReproducible = false
	c.lastValidatedRun = 0
	c.lastChangedRun = 0
	c.deps = nil
	c.forceRecompute = false
}

// PreviouslyEvaluated reports whether this cell has ever completed
// (Ok or Error), per previously_evaluated_cell's contract.
func (c *Cell[O]) PreviouslyEvaluated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind != unevaluated
}

// DepsSnapshot returns the recorded dependencies for introspection
// (get_deps), or nil if the cell has never completed a compute.
func (c *Cell[O]) DepsSnapshot() []Dep {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind == unevaluated {
		return nil
	}
	out := make([]Dep, len(c.deps))
	for i, d := range c.deps {
		out[i] = Dep{Name: d.name, Input: d.inputDyn}
	}
	return out
}

// Dep is one entry of get_deps' result.
type Dep struct {
	Name  string
	Input any
}

func (c *Cell[O]) hasRestorableCache() bool {
	if c.forceRecompute {
		return false
	}
	switch c.kind {
	case cachedOk:
		return true
	case cachedError:
		return c.errReproducible
	default:
		return false
	}
}

// EnsureCurrent is the single recursive entry point used both for
// top-level Exec calls and for a dependent cell asking one of its deps to
// restore. callerID is 0 for a top-level call with no enclosing cell.
//
// Every call — whether it originates from a restore-phase dependency walk
// or from a compute-phase body issuing a fresh exec — registers the
// (callerID, c.id) edge with the cycle detector before anything else.
// This is deliberate: the cycle DAG always reflects exactly "who asked for
// whom this run," regardless of which phase asked, so there is never a
// moment where edges from different phases are compared inconsistently
// (spec.md §4.2's restore/compute separation property).
func (c *Cell[O]) EnsureCurrent(ctx context.Context, h Host, callerID uint64) (O, uint64, error) {
	sched := h.Scheduler()
	owns := false

	for !owns {
		if callerID != 0 {
			if err := sched.Acquire(ctx); err != nil {
				var zero O
				return zero, 0, err
			}
			cerr := h.Cycle().AddEdge(callerID, c.id)
			sched.Release()
			if cerr != nil {
				wrapped := c.toCycleError(h, cerr)
				h.Logger().Warn("cycle detected", zap.Uint64("cell_id", c.id), zap.Uint64("identity_hash", c.identHash), zap.Error(wrapped))
				var zero O
				return zero, 0, wrapped
			}
		}

		run := h.CurrentRun()
		c.mu.Lock()
		settledThisRun := c.runID == run && !c.running

		switch {
		case settledThisRun && c.kind == cachedOk:
			v, lcr := c.okValue, c.lastChangedRun
			c.mu.Unlock()
			return v, lcr, nil
		case settledThisRun && c.kind == cachedError:
			err := c.errValue
			c.mu.Unlock()
			var zero O
			return zero, 0, err
		case c.runID == run && c.running:
			// Another in-flight caller (a concurrent diamond dependent, not
			// a cycle — AddEdge above would already have returned an error
			// for a genuine cycle) is already restoring/computing this
			// cell this run. Wait for it to settle, then re-check.
			barrier := c.barrier
			c.mu.Unlock()
			select {
			case <-barrier:
				continue
			case <-ctx.Done():
				var zero O
				return zero, 0, ctx.Err()
			}
		default:
			// Stale from a previous run (or never visited): this caller
			// takes ownership of restoring/computing it now.
			c.runID = run
			c.running = true
			c.barrier = make(chan struct{})
			owns = true
			c.mu.Unlock()
		}
	}

	v, lcr, err := c.restoreOrCompute(ctx, h)

	c.mu.Lock()
	c.running = false
	barrier := c.barrier
	c.mu.Unlock()
	close(barrier)

	if sched.Acquire(ctx) == nil {
		h.Cycle().MarkCompleted(c.id)
		sched.Release()
	}
	return v, lcr, err
}

func (c *Cell[O]) toCycleError(h Host, cerr error) error {
	ce, ok := cerr.(*cycledag.CycleError)
	if !ok {
		return cerr
	}
	frames := make([]idgen.Frame, 0, len(ce.Path))
	for _, id := range ce.Path {
		if f, found := h.FrameFor(id); found {
			frames = append(frames, f)
		}
	}
	h.Perf().RecordCyclePath()
	return &CycleError{Path: frames}
}

func (c *Cell[O]) restoreOrCompute(ctx context.Context, h Host) (O, uint64, error) {
	c.mu.Lock()
	canRestore := c.hasRestorableCache()
	c.mu.Unlock()

	if canRestore && c.tryRestore(ctx, h) {
		h.Perf().RecordRestored()
		c.mu.Lock()
		c.lastValidatedRun = h.CurrentRun()
		kind, v, lcr, errv := c.kind, c.okValue, c.lastChangedRun, c.errValue
		c.mu.Unlock()
		h.Logger().Debug("cell restored", zap.Uint64("cell_id", c.id), zap.String("name", c.name), zap.Uint64("identity_hash", c.identHash))
		if kind == cachedError {
			var zero O
			return zero, 0, errv
		}
		return v, lcr, nil
	}

	h.Logger().Debug("cell recomputing", zap.Uint64("cell_id", c.id), zap.String("name", c.name), zap.Bool("had_cache", canRestore), zap.Uint64("identity_hash", c.identHash))
	h.Perf().RecordComputed()
	return c.compute(ctx, h)
}

// tryRestore re-validates the cell's recorded dependencies (if any) against
// the current run, returning whether the cached slot — Ok or Error alike —
// is still current. It never inspects okValue/errValue itself; the caller
// reads whichever one applies once tryRestore confirms validity.
func (c *Cell[O]) tryRestore(ctx context.Context, h Host) bool {
	c.mu.Lock()
	deps := append([]depEdge(nil), c.deps...)
	c.mu.Unlock()

	for _, d := range deps {
		lcr, err := d.ensure(ctx, c.id)
		h.Perf().RecordTraversedEdges(1)
		if err != nil || lcr != d.lastChangedRunAtRecord {
			return false
		}
	}
	return true
}

func (c *Cell[O]) compute(ctx context.Context, h Host) (O, uint64, error) {
	rec := newRecorder()
	bodyCtx := withRecorder(ctx, c.id, rec)
	bodyCtx = idgen.WithFrame(bodyCtx, idgen.Frame{Name: c.name, Input: c.input, AsInstanceOf: c.asInstanceOf})

	v, err := c.body(bodyCtx)

	run := h.CurrentRun()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceRecompute = false

	if err != nil {
		reproducible := true
		var nonRepro *NonReproducible
		inner := err
		if asNonRepro(err, &nonRepro) {
			reproducible = false
			inner = nonRepro.Inner
		}
		if _, isCycle := err.(*CycleError); isCycle {
			reproducible = false
			inner = err
		}
		c.kind = cachedError
		c.errReproducible = reproducible
		c.errValue = inner
		c.lastChangedRun = run
		c.lastValidatedRun = run
		var zero O
		return zero, run, inner
	}

	newChanged := run
	if c.cutoff != nil && c.kind == cachedOk && c.cutoff(c.okValue, v) {
		newChanged = c.lastChangedRun
	}
	c.kind = cachedOk
	c.okValue = v
	c.lastChangedRun = newChanged
	c.lastValidatedRun = run
	c.deps = rec.snapshot()
	return v, newChanged, nil
}

func asNonRepro(err error, out **NonReproducible) bool {
	for e := err; e != nil; {
		if nr, ok := e.(*NonReproducible); ok {
			*out = nr
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// RecordDependency appends the (targetCellID, lastChangedRun) edge to the
// recorder active for the cell currently computing in ctx, if any. It is
// called by the generic Exec entry point in the root package after a
// nested cell successfully settles.
func RecordDependency(ctx context.Context, name string, input any, cellID uint64, lastChangedRun uint64, ensure func(ctx context.Context, callerID uint64) (uint64, error)) {
	rec, ok := recorderFrom(ctx)
	if !ok {
		return
	}
	rec.add(depEdge{
		cellID:                 cellID,
		name:                   name,
		inputDyn:               input,
		lastChangedRunAtRecord: lastChangedRun,
		ensure:                 ensure,
	})
}

// CallerID returns the cell id of the cell currently computing in ctx, or
// 0 if ctx is not inside any cell's compute (a top-level Exec call).
func CallerID(ctx context.Context) uint64 {
	id, _ := callerIDFrom(ctx)
	return id
}

type recorder struct {
	mu   sync.Mutex
	deps []depEdge
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) add(d depEdge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps = append(r.deps, d)
}

func (r *recorder) snapshot() []depEdge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]depEdge(nil), r.deps...)
}

type recorderKey struct{}
type callerKey struct{}

func withRecorder(ctx context.Context, cellID uint64, rec *recorder) context.Context {
	ctx = context.WithValue(ctx, recorderKey{}, rec)
	ctx = context.WithValue(ctx, callerKey{}, cellID)
	return ctx
}

func recorderFrom(ctx context.Context) (*recorder, bool) {
	r, ok := ctx.Value(recorderKey{}).(*recorder)
	return r, ok
}

func callerIDFrom(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(callerKey{}).(uint64)
	return id, ok
}
