// Package phase runs an ordered list of phases, each delegated to a stage
// or fan-out orchestrator across a process boundary.
//
// Phases run in list order. Before a phase runs, every name in its
// depends_on list must already be among the phases that completed in this
// run; otherwise the phase is skipped and recorded as failed. A phase that
// returns a plain failure gets one more attempt. A checkpoint is written
// after every attempt.
//
// Resume is derived from signals: a phase whose completion signal for the
// current cycle already exists is treated as completed without running it
// again.
package phase
