package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/formula"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

func mustParse(t *testing.T, src string) *formula.Parsed {
	t.Helper()
	p, err := formula.Parse(src)
	require.NoError(t, err)
	return p
}

// testSheet builds a sheet with input column A, derived columns B and C,
// aggregate Total, and n rows.
func testSheet(t *testing.T, n int) *sheet.Sheet {
	t.Helper()
	sh := &sheet.Sheet{
		ID: "orders",
		Columns: []*sheet.Column{
			{ID: "A", Type: value.TypeNumber},
			{ID: "B", Type: value.TypeNumber, Formula: &sheet.FormulaDef{Source: "A * 2", Trigger: sheet.TriggerRow}},
			{ID: "C", Type: value.TypeNumber, Formula: &sheet.FormulaDef{Source: "B + 1", Trigger: sheet.TriggerRow}},
		},
		Aggregates: []*sheet.Aggregate{
			{Name: "Total", Formula: sheet.FormulaDef{Source: "sum(B)", Trigger: sheet.TriggerSheet}},
		},
	}
	for i := 0; i < n; i++ {
		sh.InsertRow()
	}
	return sh
}

func registerAll(t *testing.T, g *Graph, sh *sheet.Sheet) {
	t.Helper()
	for _, c := range sh.Columns {
		if c.Formula == nil {
			continue
		}
		err := g.AddOrReplaceColumnFormula(sh, c.ID, mustParse(t, c.Formula.Source), c.Formula.Trigger)
		require.NoError(t, err)
	}
	for _, a := range sh.Aggregates {
		err := g.AddOrReplaceAggregate(sh, a.Name, mustParse(t, a.Formula.Source), a.Formula.Trigger)
		require.NoError(t, err)
	}
}

func TestCycleRejectionLeavesGraphUnchanged(t *testing.T) {
	sh := testSheet(t, 1)
	g := New()
	registerAll(t, g, sh)

	// B already reads A; pointing A's formula back at C closes a loop
	// through B -> C.
	err := g.AddOrReplaceColumnFormula(sh, "A", mustParse(t, "C + 1"), sheet.TriggerRow)
	require.Error(t, err)
	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, sheet.SheetID("orders"), cerr.Sheet)
	require.True(t, IsCycleError(err))

	// Rejection must not have registered anything for A, and B's
	// formula survives untouched.
	require.Nil(t, g.ColumnFormula("orders", "A"))
	require.NotNil(t, g.ColumnFormula("orders", "B"))
	require.Equal(t, "A * 2", g.ColumnFormula("orders", "B").Source)
}

func TestAggregateSelfReferenceRejected(t *testing.T) {
	sh := testSheet(t, 1)
	g := New()
	err := g.AddOrReplaceAggregate(sh, "Total", mustParse(t, "Total + 1"), sheet.TriggerSheet)
	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
}

func TestAggregateRowTriggerRejected(t *testing.T) {
	sh := testSheet(t, 1)
	g := New()
	err := g.AddOrReplaceAggregate(sh, "Total", mustParse(t, "sum(B)"), sheet.TriggerRow)
	require.Error(t, err)
}

func TestUnknownReferenceRejectedAtSave(t *testing.T) {
	sh := testSheet(t, 1)
	g := New()
	err := g.AddOrReplaceColumnFormula(sh, "B", mustParse(t, "Z * 2"), sheet.TriggerRow)
	require.ErrorContains(t, err, `unknown name "Z"`)
}

func closureStrings(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.String()
	}
	return out
}

func TestClosureOrderSingleRowEdit(t *testing.T) {
	sh := testSheet(t, 3)
	g := New()
	registerAll(t, g, sh)

	nodes := g.AffectedClosure(sh, []sheet.CellRef{{Sheet: "orders", Row: 2, Col: "A"}}, ClosureOptions{})
	require.Equal(t, []string{
		"orders!2.B",
		"orders!2.C",
		"orders!Total",
	}, closureStrings(nodes))
}

func TestClosureMinimality(t *testing.T) {
	sh := testSheet(t, 3)
	g := New()
	registerAll(t, g, sh)

	nodes := g.AffectedClosure(sh, []sheet.CellRef{{Sheet: "orders", Row: 1, Col: "A"}}, ClosureOptions{})
	for _, n := range nodes {
		if n.Kind == NodeCell {
			require.Equal(t, sheet.RowID(1), n.Cell.Row, "unaffected row %d leaked into closure", n.Cell.Row)
		}
	}
}

func TestClosureMultiRowEditTieBreak(t *testing.T) {
	sh := testSheet(t, 2)
	g := New()
	registerAll(t, g, sh)

	nodes := g.AffectedClosure(sh, []sheet.CellRef{
		{Sheet: "orders", Row: 2, Col: "A"},
		{Sheet: "orders", Row: 1, Col: "A"},
	}, ClosureOptions{})
	require.Equal(t, []string{
		"orders!1.B",
		"orders!1.C",
		"orders!2.B",
		"orders!2.C",
		"orders!Total",
	}, closureStrings(nodes))
}

func TestClosureAggregateFansOutToAllRows(t *testing.T) {
	sh := &sheet.Sheet{
		ID: "orders",
		Columns: []*sheet.Column{
			{ID: "A", Type: value.TypeNumber},
			{ID: "Share", Type: value.TypeNumber, Formula: &sheet.FormulaDef{Source: "A / Total", Trigger: sheet.TriggerRow}},
		},
		Aggregates: []*sheet.Aggregate{
			{Name: "Total", Formula: sheet.FormulaDef{Source: "sum(A)", Trigger: sheet.TriggerSheet}},
		},
	}
	sh.InsertRow()
	sh.InsertRow()
	g := New()
	registerAll(t, g, sh)

	// Editing A in one row moves Total, which every Share cell reads.
	nodes := g.AffectedClosure(sh, []sheet.CellRef{{Sheet: "orders", Row: 1, Col: "A"}}, ClosureOptions{})
	require.Equal(t, []string{
		"orders!Total",
		"orders!1.Share",
		"orders!2.Share",
	}, closureStrings(nodes))
}

func TestClosureExcludesManualFormulas(t *testing.T) {
	sh := testSheet(t, 1)
	sh.Columns = append(sh.Columns, &sheet.Column{
		ID: "M", Type: value.TypeNumber,
		Formula: &sheet.FormulaDef{Source: "A * 10", Trigger: sheet.TriggerManual},
	})
	g := New()
	registerAll(t, g, sh)
	require.NoError(t, g.AddOrReplaceColumnFormula(sh, "M", mustParse(t, "A * 10"), sheet.TriggerManual))

	nodes := g.AffectedClosure(sh, []sheet.CellRef{{Sheet: "orders", Row: 1, Col: "A"}}, ClosureOptions{})
	for _, n := range nodes {
		require.NotEqual(t, sheet.ColumnID("M"), n.Cell.Col, "manual formula recomputed without a request")
	}

	nodes = g.AffectedClosure(sh, nil, ClosureOptions{ManualCols: []sheet.ColumnID{"M"}})
	require.Equal(t, []string{"orders!1.M"}, closureStrings(nodes))
}

func TestClosureRecomputeAll(t *testing.T) {
	sh := testSheet(t, 2)
	g := New()
	registerAll(t, g, sh)

	nodes := g.AffectedClosure(sh, nil, ClosureOptions{RecomputeAll: true})
	require.Equal(t, []string{
		"orders!1.B",
		"orders!1.C",
		"orders!2.B",
		"orders!2.C",
		"orders!Total",
	}, closureStrings(nodes))
}

func TestClosureSkipsDeletedRows(t *testing.T) {
	sh := testSheet(t, 3)
	require.True(t, sh.DeleteRow(2))
	g := New()
	registerAll(t, g, sh)

	nodes := g.AffectedClosure(sh, nil, ClosureOptions{RecomputeAll: true})
	for _, n := range nodes {
		if n.Kind == NodeCell {
			require.NotEqual(t, sheet.RowID(2), n.Cell.Row)
		}
	}
}

func TestClosureEmptyForInputOnlyEdit(t *testing.T) {
	sh := &sheet.Sheet{
		ID:      "notes",
		Columns: []*sheet.Column{{ID: "Text", Type: value.TypeString}},
	}
	sh.InsertRow()
	g := New()
	nodes := g.AffectedClosure(sh, []sheet.CellRef{{Sheet: "notes", Row: 1, Col: "Text"}}, ClosureOptions{})
	require.Empty(t, nodes)
}
