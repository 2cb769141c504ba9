// Package orchestrator runs the section-by-section generation of a plan's
// document as a detached background task.
//
// A run walks the resolved section list strictly in order, calls the
// completion provider once per section, and persists numeric progress after
// each step. A failed provider call produces an inline placeholder and the
// run continues; a failed store write aborts the run and marks the plan
// failed. The start gate is a single conditional update, so duplicate start
// requests never spawn a second run.
package orchestrator
