package harness

import "fmt"

// TraceEvent records one step's outcome in execution order.
type TraceEvent struct {
	Op      string `json:"op"`
	Sheet   string `json:"sheet"`
	Target  string `json:"target,omitempty"` // "3.A", "Total", or "row 2"
	Outcome string `json:"outcome"`          // "committed" or "rejected"

	// Committed pass details.
	Token     string `json:"token,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
	Nodes     int    `json:"nodes,omitempty"`
	Evaluated int    `json:"evaluated,omitempty"`
	Errored   int    `json:"errored,omitempty"`

	// Rejection code for rejected mutations.
	Code string `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	// Trace records each step's outcome in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists step and assertion failures. Empty when Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result to accumulate into.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
