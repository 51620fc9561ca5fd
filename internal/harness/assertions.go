package harness

import (
	"context"

	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// evaluateAssertions checks every assertion against the final state,
// accumulating failures into the result.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) {
	for i, a := range assertions {
		switch a.Type {
		case AssertCell:
			h.assertCell(i, a, result)
		case AssertAggregate:
			h.assertAggregate(i, a, result)
		case AssertAuditChain:
			if err := h.store.VerifyChain(ctx); err != nil {
				result.AddError("assertions[%d] audit_chain: %v", i, err)
			}
		case AssertPassCount:
			seq, err := h.store.MaxPassSeq(ctx)
			if err != nil {
				result.AddError("assertions[%d] pass_count: %v", i, err)
			} else if seq != int64(a.Count) {
				result.AddError("assertions[%d] pass_count: %d passes committed, want %d", i, seq, a.Count)
			}
		default:
			result.AddError("assertions[%d]: unknown type %q", i, a.Type)
		}
	}
}

func (h *Harness) assertCell(index int, a Assertion, result *Result) {
	sh := h.wb.Sheet(sheet.SheetID(a.Sheet))
	if sh == nil {
		result.AddError("assertions[%d] cell: sheet %s not found", index, a.Sheet)
		return
	}
	col := sh.Column(sheet.ColumnID(a.Col))
	if col == nil {
		result.AddError("assertions[%d] cell: column %s.%s not found", index, a.Sheet, a.Col)
		return
	}

	cell := h.grid.Cell(sheet.CellRef{Sheet: sh.ID, Row: sheet.RowID(a.Row), Col: col.ID})
	var v value.Value
	if col.Derived() {
		v = cell.Effective()
	} else {
		v = cell.Raw
	}
	checkValue(index, "cell", a, v, cell.Stale, result)
}

func (h *Harness) assertAggregate(index int, a Assertion, result *Result) {
	cell := h.grid.Agg(sheet.AggRef{Sheet: sheet.SheetID(a.Sheet), Name: a.Name})
	checkValue(index, "aggregate", a, cell.Effective(), cell.Stale, result)
}

func checkValue(index int, kind string, a Assertion, v value.Value, stale bool, result *Result) {
	if a.Error != "" {
		errVal, ok := v.(value.Error)
		if !ok {
			result.AddError("assertions[%d] %s: value is %q, want error %s", index, kind, value.Display(v), a.Error)
		} else if string(errVal.Code) != a.Error {
			result.AddError("assertions[%d] %s: error code %s, want %s", index, kind, errVal.Code, a.Error)
		}
	} else if got := value.Display(v); got != a.Value {
		result.AddError("assertions[%d] %s: value %q, want %q", index, kind, got, a.Value)
	}

	if a.Stale != nil && stale != *a.Stale {
		result.AddError("assertions[%d] %s: stale=%v, want %v", index, kind, stale, *a.Stale)
	}
}
