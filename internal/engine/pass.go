package engine

import (
	"fmt"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// PassState is the lifecycle state of one recompute pass.
//
// The legal transitions form a line with two exits:
//
//	RECEIVED -> CLOSURE_COMPUTED -> EVALUATING -> COMMITTED
//	                 \                  \
//	                  -> FAILED          -> FAILED
//
// A pass never moves backwards and never leaves a terminal state.
type PassState int

const (
	StateReceived PassState = iota + 1
	StateClosureComputed
	StateEvaluating
	StateCommitted
	StateFailed
)

func (s PassState) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateClosureComputed:
		return "CLOSURE_COMPUTED"
	case StateEvaluating:
		return "EVALUATING"
	case StateCommitted:
		return "COMMITTED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("PassState(%d)", int(s))
}

// terminal reports whether the state admits no further transitions.
func (s PassState) terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// validTransition encodes the edges of the state diagram above.
func validTransition(from, to PassState) bool {
	switch from {
	case StateReceived:
		return to == StateClosureComputed || to == StateFailed
	case StateClosureComputed:
		return to == StateEvaluating || to == StateFailed
	case StateEvaluating:
		return to == StateCommitted || to == StateFailed
	}
	return false
}

// Pass is one run of the scheduler: a trigger, its affected closure,
// and the evaluation bookkeeping. Passes are created by the scheduler
// and exposed read-only through PassResult.
type Pass struct {
	Token   string
	Sheet   sheet.SheetID
	Trigger sheet.TriggerKind
	State   PassState
	Seq     int64 // logical clock stamp, assigned at commit

	Nodes     []graph.Node
	Evaluated int // nodes evaluated (with or without an error value)
	Errored   int // nodes whose result is an error value
}

// transition moves the pass to a new state, panicking on an illegal
// edge. State-machine violations are programming errors, not inputs.
func (p *Pass) transition(to PassState) {
	if !validTransition(p.State, to) {
		panic(fmt.Sprintf("pass %s: illegal transition %s -> %s", p.Token, p.State, to))
	}
	p.State = to
}

// CellUpdate is one committed cell value of a pass.
type CellUpdate struct {
	Ref sheet.CellRef
	Val value.Value // error values included; errors are data
}

// AggUpdate is one committed aggregate value of a pass.
type AggUpdate struct {
	Ref sheet.AggRef
	Val value.Value
}

// PassCommit is the atomic payload handed to the Committer when a pass
// reaches the end of evaluation. Either the whole payload is durable or
// none of it is.
type PassCommit struct {
	Sheet   sheet.SheetID
	Token   string
	Seq     int64
	Trigger sheet.TriggerKind
	Cells   []CellUpdate
	Aggs    []AggUpdate
}

// PassResult is the outcome of a pass returned to the caller.
//
// State is COMMITTED or FAILED. Err is set only for FAILED and names
// the terminal cause (closure quota, cancellation, commit failure).
// Errored counts cells that committed an error value; those do NOT
// fail the pass, because formula errors are data.
//
// Updates and AggUpdates carry every committed value of the pass in
// evaluation order, so the caller can render what changed without
// re-reading the grid. Both are nil for FAILED passes.
type PassResult struct {
	Token      string
	Sheet      sheet.SheetID
	Trigger    sheet.TriggerKind
	State      PassState
	Seq        int64
	Nodes      int
	Evaluated  int
	Errored    int
	Updates    []CellUpdate
	AggUpdates []AggUpdate
	Err        error
}
