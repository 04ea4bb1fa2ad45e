// Package runctl drives the engine's run boundaries (spec.md §4.7): it
// owns the monotonic run counter, stamps each run with a fresh identity,
// and applies queued Invalidations between runs by forwarding them to
// whichever cells/functions/the whole cache they target.
package runctl

import (
	"sync"
	"sync/atomic"

	"memoengine/internal/cycledag"
	"memoengine/internal/invalidate"
	"memoengine/internal/perf"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Invalidatable is the narrow surface a single interned Cell must expose
// to be targeted by id (node.Cell[O] satisfies this for any O).
type Invalidatable interface {
	MarkForRecompute()
	ClearAll()
	IdentityHash() uint64
}

// FuncInvalidatable is the narrow surface a cellstore.Store must expose to
// be targeted by its Function id.
type FuncInvalidatable interface {
	InvalidateAll()
	ClearAll()
}

// Run identifies one completed or in-progress run (spec.md §3's run
// counter, supplemented with a UUID so logs/traces can correlate a run
// across goroutines without leaking the bare counter as a security-ish
// identifier).
type Run struct {
	Seq uint64
	ID  uuid.UUID
}

// Controller owns the run counter and the registries invalidation targets.
// It implements invalidate.Target; internal/node's Host reads CurrentRun
// from it directly.
type Controller struct {
	seq   atomic.Uint64
	runID atomic.Value // uuid.UUID

	cycle  *cycledag.Graph
	perf   *perf.Counters
	logger *zap.Logger

	mu    sync.Mutex
	cells map[uint64]Invalidatable
	funcs map[uint64]FuncInvalidatable
}

// New returns a Controller at run 0 (no run has started yet), wired to the
// engine-wide cycle graph and perf counters it must reset at each boundary.
func New(cycle *cycledag.Graph, perf *perf.Counters, logger *zap.Logger) *Controller {
	c := &Controller{
		cycle:  cycle,
		perf:   perf,
		logger: logger,
		cells:  make(map[uint64]Invalidatable),
		funcs:  make(map[uint64]FuncInvalidatable),
	}
	c.runID.Store(uuid.New())
	return c
}

// RegisterCell makes id reachable by invalidate_cell. Called once per Cell,
// right after cellstore interns it.
func (c *Controller) RegisterCell(id uint64, target Invalidatable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cells[id] = target
}

// RegisterFunction makes funcID reachable by invalidate_function and by
// ClearAll. Called once per Function, when it's created.
func (c *Controller) RegisterFunction(funcID uint64, target FuncInvalidatable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[funcID] = target
}

// CurrentRun returns the sequence number of the run in progress (or the
// last completed one, between runs).
func (c *Controller) CurrentRun() uint64 { return c.seq.Load() }

// CurrentRunID returns the full Run identity (sequence + UUID) for the
// run in progress.
func (c *Controller) CurrentRunID() Run {
	return Run{Seq: c.seq.Load(), ID: c.runID.Load().(uuid.UUID)}
}

// Advance starts a new run: bumps the sequence counter, stamps a fresh
// UUID, and resets the per-run cycle graph and perf counters (spec.md
// invariant 5 — the cycle DAG never carries edges across a run boundary).
func (c *Controller) Advance() Run {
	c.seq.Add(1)
	id := uuid.New()
	c.runID.Store(id)
	c.cycle.Reset()
	c.perf.Reset()
	c.logger.Debug("run advanced", zap.Uint64("run_seq", c.seq.Load()), zap.String("run_id", id.String()))
	return c.CurrentRunID()
}

// InvalidateCell implements invalidate.Target: forces the single named
// cell to recompute next time it's reached, if it has ever been created.
func (c *Controller) InvalidateCell(id uint64) {
	c.mu.Lock()
	t, ok := c.cells[id]
	c.mu.Unlock()
	if ok {
		t.MarkForRecompute()
		c.logger.Debug("cell invalidated", zap.Uint64("cell_id", id), zap.Uint64("identity_hash", t.IdentityHash()))
	}
}

// InvalidateFunction implements invalidate.Target: forces every cell ever
// interned for funcID to recompute.
func (c *Controller) InvalidateFunction(funcID uint64) {
	c.mu.Lock()
	t, ok := c.funcs[funcID]
	c.mu.Unlock()
	if ok {
		t.InvalidateAll()
		c.logger.Debug("function invalidated", zap.Uint64("func_id", funcID))
	}
}

// ClearAll implements invalidate.Target: drops every cached result across
// every registered function, and resets the cycle graph so a cell that
// never gets touched again won't carry a stale completion mark.
func (c *Controller) ClearAll() {
	c.mu.Lock()
	funcs := make([]FuncInvalidatable, 0, len(c.funcs))
	for _, t := range c.funcs {
		funcs = append(funcs, t)
	}
	c.mu.Unlock()
	for _, t := range funcs {
		t.ClearAll()
	}
	c.cycle.Reset()
	c.logger.Warn("all caches cleared", zap.Int("functions", len(funcs)))
}

// Reset applies inv once, immediately, between runs (spec.md
// §4.5: "Applied only inside reset(inv) between runs"). The engine's Run
// driver calls Advance after Reset so the next run starts from a clean
// cycle graph and perf snapshot regardless of what inv touched.
func (c *Controller) Reset(inv invalidate.Invalidation) {
	inv.Apply(c)
}
