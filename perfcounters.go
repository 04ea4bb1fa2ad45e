package memo

import "memoengine/internal/perf"

// PerfReport is an immutable snapshot of an Engine's per-run counters
// (spec.md §4.7, §6 Perf_counters.report_for_current_run).
type PerfReport = perf.Report

// EnablePerfCounters turns counter tracking on or off for e. Counters
// start disabled, since tracking them costs atomic traffic on every
// restore/compute.
func EnablePerfCounters(e *Engine, on bool) { e.Perf().Enable(on) }

// ResetPerfCounters zeroes the restored, computed, traversed-edge and
// cycle-path counters (the cycle-detection node/edge counts are read from
// the cycle graph and are not affected); runctl.Controller.Advance
// already does this at each run boundary, so this is for mid-run manual
// resets (tests wanting to isolate a single Exec's counter delta).
func ResetPerfCounters(e *Engine) { e.Perf().Reset() }

// ReportForCurrentRun snapshots e's perf counters for the run in progress.
func ReportForCurrentRun(e *Engine) PerfReport { return e.Perf().ReportForCurrentRun() }

// AssertPerfInvariants checks spec.md invariant 6 against e's current
// counters: restored+computed must equal touchedCells, and traversedEdges
// must be at least recordedEdges. It returns a descriptive error instead
// of panicking (spec.md §6 Perf_counters.assert_invariants is a debugging
// aid callers opt into, not a runtime safety check).
func AssertPerfInvariants(e *Engine, touchedCells, recordedEdges int) error {
	return e.Perf().AssertInvariants(touchedCells, recordedEdges)
}
