// Package harness runs declarative YAML scenarios against a full
// engine stack: an in-memory database, the dependency graph, the
// scheduler, and the gateway. Tokens and timestamps come from
// deterministic generators, so a scenario's trace, audit log, and
// golden snapshot are identical on every run.
package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/gateway"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/internal/testutil"
	"github.com/cascadehq/cascade/internal/value"
	"github.com/cascadehq/cascade/internal/workbook"
)

// Harness is one scenario's execution environment.
type Harness struct {
	store *store.Store
	wb    *sheet.Workbook
	grid  *sheet.Grid
	gw    *gateway.Gateway
}

// Run executes a scenario in a fresh in-memory database and returns
// the result. Step failures and assertion failures accumulate; an
// infrastructure failure (broken definition, storage error) aborts.
func Run(scenario *Scenario) (*Result, error) {
	wb, g, err := workbook.LoadSource(scenario.Workbook)
	if err != nil {
		return nil, fmt.Errorf("scenario workbook: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.InitWorkbook(ctx, wb); err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}

	grid := sheet.NewGrid()
	sched := engine.NewScheduler(g, grid, st, testutil.NewSeqTokenGenerator("pass"))
	gw := gateway.New(wb, grid, g, sched, st, testutil.NewSeqTokenGenerator("tok"),
		gateway.WithNow(testutil.FixedNow(testutil.Epoch, time.Second)),
	)

	h := &Harness{store: st, wb: wb, grid: grid, gw: gw}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}
	h.evaluateAssertions(ctx, scenario.Assertions, result)
	return result, nil
}

// executeStep applies one mutation and records its trace event. A
// rejection only fails the scenario when the step did not expect it.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	dec := stepDecision(step)
	id := sheet.SheetID(step.Sheet)

	var (
		res    engine.PassResult
		err    error
		target string
	)

	switch step.Op {
	case "edit":
		target = fmt.Sprintf("%d.%s", step.Row, step.Col)
		ref := sheet.CellRef{Sheet: id, Row: sheet.RowID(step.Row), Col: sheet.ColumnID(step.Col)}
		res, err = h.gw.ApplyEdit(ctx, dec, ref, yamlValue(step.Value))
	case "insert_row":
		var row sheet.RowID
		row, res, err = h.gw.InsertRow(ctx, dec, id)
		target = fmt.Sprintf("row %d", row)
	case "delete_row":
		target = fmt.Sprintf("row %d", step.Row)
		res, err = h.gw.DeleteRow(ctx, dec, id, sheet.RowID(step.Row))
	case "hard_delete_row":
		target = fmt.Sprintf("row %d", step.Row)
		res, err = h.gw.HardDeleteRow(ctx, dec, id, sheet.RowID(step.Row))
	case "set_formula":
		target = step.Col
		res, err = h.gw.SetColumnFormula(ctx, dec, id, sheet.ColumnID(step.Col), step.Src, stepTrigger(step, sheet.TriggerRow))
	case "set_aggregate":
		target = step.Name
		res, err = h.gw.SetAggregateFormula(ctx, dec, id, step.Name, step.Src, stepTrigger(step, sheet.TriggerSheet))
	case "remove_formula":
		target = step.Col
		err = h.gw.RemoveColumnFormula(ctx, dec, id, sheet.ColumnID(step.Col))
	case "recalc":
		cols := make([]sheet.ColumnID, 0, len(step.Cols))
		for _, c := range step.Cols {
			cols = append(cols, sheet.ColumnID(c))
		}
		res, err = h.gw.Recompute(ctx, dec, id, cols, step.Aggs)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}

	event := TraceEvent{Op: step.Op, Sheet: step.Sheet, Target: target}

	if err != nil {
		event.Outcome = "rejected"
		event.Code = rejectionCode(err)
		result.Trace = append(result.Trace, event)

		if step.Expect == nil || step.Expect.Rejected == "" {
			result.AddError("steps[%d] %s: unexpected rejection: %v", index, step.Op, err)
		} else if step.Expect.Rejected != event.Code {
			result.AddError("steps[%d] %s: rejected with %s, want %s", index, step.Op, event.Code, step.Expect.Rejected)
		}
		return nil
	}

	event.Outcome = "committed"
	event.Token = res.Token
	event.Seq = res.Seq
	event.Nodes = res.Nodes
	event.Evaluated = res.Evaluated
	event.Errored = res.Errored
	result.Trace = append(result.Trace, event)

	if step.Expect != nil {
		if step.Expect.Rejected != "" {
			result.AddError("steps[%d] %s: committed, want rejection %s", index, step.Op, step.Expect.Rejected)
		}
		if step.Expect.Errored != nil && res.Errored != *step.Expect.Errored {
			result.AddError("steps[%d] %s: %d errored node(s), want %d", index, step.Op, res.Errored, *step.Expect.Errored)
		}
	}
	return nil
}

// stepDecision builds the scope decision for a step. Scenarios default
// to a superadmin actor so every operation is reachable; a step can
// drop to a plain user to exercise rejection paths.
func stepDecision(step Step) gateway.ScopeDecision {
	if step.Role == "user" {
		return gateway.ScopeDecision{
			Actor:  audit.Actor{ID: "harness-user", Name: "harness-user", Role: audit.RoleUser},
			Permit: true,
		}
	}
	return gateway.Superadmin(audit.Actor{ID: "harness", Name: "harness", Role: audit.RoleSuperadmin})
}

func stepTrigger(step Step, def sheet.TriggerKind) sheet.TriggerKind {
	if step.Trigger == "" {
		return def
	}
	t, err := sheet.ParseTrigger(step.Trigger)
	if err != nil {
		return def
	}
	return t
}

// rejectionCode maps a gateway rejection to its scenario code.
func rejectionCode(err error) string {
	if graph.IsCycleError(err) {
		return "CYCLE"
	}
	var mutErr *gateway.MutationError
	if errors.As(err, &mutErr) {
		return string(mutErr.Code)
	}
	return "ERROR"
}

// yamlValue converts a YAML scalar to a cell value. YAML null clears
// the cell; integers become numbers.
func yamlValue(v any) value.Value {
	switch val := v.(type) {
	case nil:
		return value.Null{}
	case bool:
		return value.Bool(val)
	case int:
		return value.Number(float64(val))
	case int64:
		return value.Number(float64(val))
	case float64:
		return value.Number(val)
	case string:
		return value.String(val)
	default:
		return value.String(fmt.Sprintf("%v", val))
	}
}
