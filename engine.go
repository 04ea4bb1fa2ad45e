// Package memo is an incremental memoization engine: callers register named
// functions keyed by their input, the engine runs them on demand, records
// which other memoized calls each invocation consumed, and on later runs
// recomputes only the cells whose transitive inputs actually changed.
//
// A client calls Exec inside a Task run via Run. The engine interns a Cell
// for (function, input), drives it through the restore/compute state
// machine in internal/node, and returns the cached or freshly computed
// value. Invalidation, cycle detection, early cutoff, and perf counters are
// documented on the corresponding types below.
package memo

import (
	"context"
	"fmt"
	"sync"

	"memoengine/internal/cycledag"
	"memoengine/internal/idgen"
	"memoengine/internal/invalidate"
	"memoengine/internal/node"
	"memoengine/internal/perf"
	"memoengine/internal/runctl"
	"memoengine/internal/sched"

	"go.uber.org/zap"
)

// Frame is one entry of an active call stack: the function name and input
// being evaluated, plus the polymorphic-variant witness if any (spec.md §6
// Stack_frame, §4.6).
type Frame = idgen.Frame

// RunHandle identifies one run: its monotonic sequence number and a UUID for
// correlating logs/traces (spec.md §4.7's Run handle).
type RunHandle = runctl.Run

// Invalidation is a composable description of what to invalidate at the
// next run boundary (spec.md §4.5).
type Invalidation = invalidate.Invalidation

// CycleError is raised when exec would close a dependency cycle; Path is
// the chain callee -> ... -> caller filtered to frames the engine could
// still name (spec.md §4.3, §6).
type CycleError = node.CycleError

// NonReproducible is the wrapper a body raises to mark a failure as not
// guaranteed to recur on identical input (spec.md §7).
type NonReproducible = node.NonReproducible

// EngineError wraps a body's failure together with the call stack active
// when it was raised (spec.md §6).
type EngineError = node.EngineError

// Option configures an Engine at construction time (spec.md's "no on-disk
// configuration surface" ambient-stack note: plain functional options,
// following the teacher's NewXxx(opts...) constructor idiom).
type Option func(*engineConfig)

type engineConfig struct {
	logger      *zap.Logger
	perfEnabled bool
}

// WithLogger attaches a structured logger; the default is zap's no-op
// logger, so an Engine is silent until a caller opts in.
func WithLogger(l *zap.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithPerfCounters starts the Engine with perf counters already enabled,
// equivalent to calling Perf().Enable(true) before the first Run.
func WithPerfCounters(enabled bool) Option {
	return func(c *engineConfig) { c.perfEnabled = enabled }
}

// Engine is a single, self-contained instance of the memoization engine:
// its own cell stores, cycle detector, run counter, and scheduling token
// (spec.md §9 "encapsulate the process-wide state in a single Engine
// context value; a default static instance may be exposed for
// convenience" — New provides the Engine, Default below the convenience
// instance).
type Engine struct {
	ids       *idgen.Generator
	cycle     *cycledag.Graph
	perfC     *perf.Counters
	scheduler *sched.Scheduler
	runs      *runctl.Controller
	logger    *zap.Logger

	mu     sync.Mutex
	frames map[uint64]idgen.Frame
}

// New returns a ready Engine at run 0.
func New(opts ...Option) *Engine {
	cfg := engineConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o(&cfg)
	}

	cycle := cycledag.New()
	perfC := perf.New(cycle)
	perfC.Enable(cfg.perfEnabled)

	e := &Engine{
		ids:       idgen.New(),
		cycle:     cycle,
		perfC:     perfC,
		scheduler: sched.NewScheduler(),
		runs:      runctl.New(cycle, perfC, cfg.logger),
		logger:    cfg.logger,
		frames:    make(map[uint64]idgen.Frame),
	}
	return e
}

// Default is a process-wide Engine exposed purely for convenience
// (spec.md §9); library code that needs isolation should construct its own
// Engine with New instead.
var Default = New()

// Scheduler implements node.Host.
func (e *Engine) Scheduler() node.Scheduler { return e.scheduler }

// Cycle implements node.Host.
func (e *Engine) Cycle() *cycledag.Graph { return e.cycle }

// CurrentRun implements node.Host.
func (e *Engine) CurrentRun() uint64 { return e.runs.CurrentRun() }

// Perf implements node.Host.
func (e *Engine) Perf() *perf.Counters { return e.perfC }

// Logger implements node.Host.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// FrameFor implements node.Host: looks up the Frame registered for cellID
// when its Cell was interned, for cycle-path and call-stack reporting.
func (e *Engine) FrameFor(cellID uint64) (idgen.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.frames[cellID]
	return f, ok
}

func (e *Engine) registerFrame(cellID uint64, f idgen.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames[cellID] = f
}

// nextID hands out the next globally unique id, shared across cell and
// function ids since both only need to be unique, never dense.
func (e *Engine) nextID() uint64 { return e.ids.Next() }

// Run executes task in a fresh run and returns its result (spec.md §4.7
// run(task) driver): the run counter advances, the cycle-detection DAG and
// perf counters reset, and the Engine becomes reachable from ctx for
// nested Exec calls.
func Run[T any](e *Engine, ctx context.Context, task sched.Task[T]) (T, error) {
	e.runs.Advance()
	ctx = sched.WithScheduler(ctx, e.scheduler)
	ctx = withEngine(ctx, e)
	return task(ctx)
}

// runCounterCellID is the synthetic dependency target a cell records when
// it consults CurrentRun. 0 is never assigned to a real cell (idgen.New
// hands out ids starting at 1), so it can't collide with one.
const runCounterCellID = 0

// CurrentRun returns the active Run as a Task, readable from inside any
// task running under Run (spec.md §6 current_run() → Task<Run>). The
// Engine itself is found on ctx rather than passed explicitly, the same
// context-as-capability-carrier idiom internal/sched uses for its
// scheduling token.
//
// A cell that calls CurrentRun from inside its body thereby records a
// dependency on the run counter itself (spec.md §4.5: "cells that called
// current_run() ... depend on the run counter and re-restore every run").
// The run counter's "last changed" value is simply the run it was read at,
// so re-validating that edge on any later run always fails and forces a
// recompute — cutoff is then free to suppress the value from propagating
// further if the recomputed result is unchanged.
func CurrentRun() sched.Task[RunHandle] {
	return func(ctx context.Context) (RunHandle, error) {
		e, ok := engineFrom(ctx)
		if !ok {
			return RunHandle{}, fmt.Errorf("memo: CurrentRun called outside Run")
		}
		run := e.runs.CurrentRunID()
		node.RecordDependency(ctx, "current_run", nil, runCounterCellID, run.Seq,
			func(context.Context, uint64) (uint64, error) {
				return e.runs.CurrentRun(), nil
			})
		return run, nil
	}
}

// Reset applies inv right away, between runs (spec.md §4.5
// reset(Invalidation)), so the next call to Run for this Engine starts
// from the invalidated state; the run counter advances when that Run
// starts.
func Reset(e *Engine, inv Invalidation) {
	e.runs.Reset(inv)
}

// GetCallStack returns the call stack active in ctx as a Task, innermost
// last (spec.md §6 get_call_stack() → Task<[Frame]>).
func GetCallStack() sched.Task[[]Frame] {
	return func(ctx context.Context) ([]Frame, error) {
		return idgen.StackFrom(ctx), nil
	}
}

type engineKey struct{}

func withEngine(ctx context.Context, e *Engine) context.Context {
	return context.WithValue(ctx, engineKey{}, e)
}

// engineFrom retrieves the Engine a task is running under, if any.
func engineFrom(ctx context.Context) (*Engine, bool) {
	e, ok := ctx.Value(engineKey{}).(*Engine)
	return e, ok
}
