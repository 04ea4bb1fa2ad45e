// Package perf tracks the per-run performance counters spec.md §4.7
// requires be observable via report_for_current_run: restored/computed
// cells, traversed edges, and cycle-detection node/edge counts.
package perf

import (
	"fmt"
	"sync/atomic"

	"memoengine/internal/cycledag"
)

// Counters accumulates counts for the run currently in progress.
//
// Reset clears the run-scoped counters for a new run; callers do this at
// run boundaries (internal/runctl). Cycle-detection node/edge counts are
// not tracked here at all — they're read live from the cycle Graph itself
// at report time, since the Graph already is the run's authoritative
// cycle-detection state and duplicating it into a second counter would
// only let the two drift apart.
type Counters struct {
	enabled atomic.Bool
	cycle   *cycledag.Graph

	restored       atomic.Int64
	computed       atomic.Int64
	traversedEdges atomic.Int64
	cyclePaths     atomic.Int64
}

// New returns a disabled Counters reporting cycle-detection node/edge
// counts from cycle; call Enable to start tracking.
func New(cycle *cycledag.Graph) *Counters {
	return &Counters{cycle: cycle}
}

// Enable turns counter tracking on or off. Disabled counters are no-ops on
// every Record* call, avoiding atomic traffic on the hot path for callers
// who don't inspect perf reports.
func (c *Counters) Enable(on bool) {
	c.enabled.Store(on)
}

// Reset zeroes every run-scoped counter, as done at the start of each run.
func (c *Counters) Reset() {
	c.restored.Store(0)
	c.computed.Store(0)
	c.traversedEdges.Store(0)
	c.cyclePaths.Store(0)
}

// RecordRestored marks one cell as having been restored via phase 1.
func (c *Counters) RecordRestored() {
	if c.enabled.Load() {
		c.restored.Add(1)
	}
}

// RecordComputed marks one cell as having been (re)computed via phase 2.
func (c *Counters) RecordComputed() {
	if c.enabled.Load() {
		c.computed.Add(1)
	}
}

// RecordTraversedEdges adds n to the edges-walked count.
func (c *Counters) RecordTraversedEdges(n int) {
	if c.enabled.Load() && n > 0 {
		c.traversedEdges.Add(int64(n))
	}
}

// RecordCyclePath marks that the detector reported one cycle this run. The
// cycle's node/edge counts belong to the Graph (see Report), not to this
// call; pathLen used to be folded in here, which conflated "one cycle was
// reported" with "the detector's graph grew by this many edges" — two
// different quantities that happened to share a counter.
func (c *Counters) RecordCyclePath() {
	if c.enabled.Load() {
		c.cyclePaths.Add(1)
	}
}

// Report is an immutable snapshot of the counters at the time it was taken.
type Report struct {
	Restored       int64
	Computed       int64
	TraversedEdges int64
	CycleNodes     int64
	CycleEdges     int64
	CyclePaths     int64
}

// ReportForCurrentRun snapshots the counters, folding in the cycle Graph's
// own node/edge counts for this run (spec.md §4.7's "cycle-detection
// nodes/edges added this run").
func (c *Counters) ReportForCurrentRun() Report {
	if !c.enabled.Load() {
		return Report{}
	}
	var nodes, edges int
	if c.cycle != nil {
		st := c.cycle.Stats()
		nodes, edges = st.Nodes, st.Edges
	}
	return Report{
		Restored:       c.restored.Load(),
		Computed:       c.computed.Load(),
		TraversedEdges: c.traversedEdges.Load(),
		CycleNodes:     int64(nodes),
		CycleEdges:     int64(edges),
		CyclePaths:     c.cyclePaths.Load(),
	}
}

// AssertInvariants checks spec.md invariant 6: restored+computed equals the
// number of distinct cells touched this run (touchedCells, supplied by the
// caller since only the node engine knows which cells it visited), and
// traversedEdges is at least as large as the number of dependency edges
// those cells recorded. It returns an error describing the violation
// instead of panicking, since this is an opt-in debugging aid
// (spec.md §6 Perf.assert_invariants), not a runtime safety check.
func (c *Counters) AssertInvariants(touchedCells int, recordedEdges int) error {
	r := c.ReportForCurrentRun()
	if r.Restored+r.Computed != int64(touchedCells) {
		return fmt.Errorf("perf invariant violated: restored(%d)+computed(%d) != touched cells(%d)",
			r.Restored, r.Computed, touchedCells)
	}
	if r.TraversedEdges < int64(recordedEdges) {
		return fmt.Errorf("perf invariant violated: traversed edges(%d) < recorded deps(%d)",
			r.TraversedEdges, recordedEdges)
	}
	return nil
}
