// Package engine implements the recompute scheduler.
//
// The scheduler receives a trigger (an edit, a structural change, or a
// manual request), obtains the affected closure from the dependency
// graph, evaluates it in topological order against the grid, and hands
// the results to the committer in one atomic payload.
//
// ARCHITECTURE:
//
// Single writer per sheet:
// Passes for one sheet never overlap; the mutation gateway holds the
// sheet lock across edit+pass. Passes for different sheets may run
// concurrently. Within a pass, evaluation is strictly sequential in
// closure order, so a node always reads the freshest value of its
// upstreams from the same pass.
//
// Errors are data:
// A formula evaluation failure does not fail the pass. The typed error
// value becomes the cell's result, is committed like any value, and
// flows into downstream formulas, which then report the same error.
// A pass reaches FAILED only on closure-quota breach, cancellation, or
// a commit error.
//
// Logical clock:
// Committed passes are stamped with a monotonic seq counter from
// Clock.Next(). Wall-clock timestamps never participate in ordering,
// so the same edits always produce the same committed sequence.
package engine
