package workbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

const ordersDef = `
workbook: sheets: {
	orders: {
		columns: [
			{id: "A", type: "number"},
			{id: "B", type: "number", formula: "A * 2"},
			{id: "C", type: "number", formula: {src: "B + 1", trigger: "manual"}},
		]
		aggregates: [
			{name: "Total", formula: "sum(B)"},
		]
		rows: 2
	}
}
`

func TestLoadSourceBuildsModel(t *testing.T) {
	wb, g, err := LoadSource(ordersDef)
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)

	sh := wb.Sheet("orders")
	require.NotNil(t, sh)
	require.Len(t, sh.Columns, 3)
	require.Equal(t, sheet.ColumnID("A"), sh.Columns[0].ID)
	require.Equal(t, value.TypeNumber, sh.Columns[0].Type)
	require.False(t, sh.Columns[0].Derived())

	b := sh.Column("B")
	require.True(t, b.Derived())
	require.Equal(t, "A * 2", b.Formula.Source)
	require.Equal(t, sheet.TriggerRow, b.Formula.Trigger)

	c := sh.Column("C")
	require.Equal(t, sheet.TriggerManual, c.Formula.Trigger)

	require.Len(t, sh.Aggregates, 1)
	require.Equal(t, sheet.TriggerSheet, sh.Aggregates[0].Formula.Trigger)

	require.Equal(t, []sheet.RowID{1, 2}, sh.ActiveRows())

	require.NotNil(t, g.ColumnFormula("orders", "B"))
	require.NotNil(t, g.AggregateFormula("orders", "Total"))
	require.Nil(t, g.ColumnFormula("orders", "A"))
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workbook.cue"), []byte(ordersDef), 0o644))

	wb, _, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, wb.Sheet("orders"))
}

func TestLoadRejectsCycle(t *testing.T) {
	_, _, err := LoadSource(`
workbook: sheets: loop: {
	columns: [
		{id: "X", type: "number", formula: "Y + 1"},
		{id: "Y", type: "number", formula: "X + 1"},
	]
}
`)
	require.Error(t, err)
	var cycleErr *graph.CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestLoadRejectsUnknownReference(t *testing.T) {
	_, _, err := LoadSource(`
workbook: sheets: s: {
	columns: [
		{id: "A", type: "number", formula: "Missing * 2"},
	]
}
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown name")
}

func TestLoadRejectsBadTriggers(t *testing.T) {
	_, _, err := LoadSource(`
workbook: sheets: s: {
	columns: [
		{id: "A", type: "number"},
		{id: "B", type: "number", formula: {src: "A", trigger: "sheet"}},
	]
}
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "row or manual")

	_, _, err = LoadSource(`
workbook: sheets: s: {
	columns: [{id: "A", type: "number"}]
	aggregates: [{name: "T", formula: {src: "sum(A)", trigger: "row"}}]
}
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sheet or manual")
}

func TestLoadRejectsDuplicateColumn(t *testing.T) {
	_, _, err := LoadSource(`
workbook: sheets: s: {
	columns: [
		{id: "A", type: "number"},
		{id: "A", type: "string"},
	]
}
`)
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	require.Contains(t, compileErr.Message, "duplicate column")
}

func TestLoadRejectsAggregateNameCollision(t *testing.T) {
	_, _, err := LoadSource(`
workbook: sheets: s: {
	columns: [{id: "A", type: "number"}]
	aggregates: [{name: "A", formula: "sum(A)"}]
}
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already in use")
}

func TestLoadRejectsUnknownType(t *testing.T) {
	_, _, err := LoadSource(`
workbook: sheets: s: {
	columns: [{id: "A", type: "decimal"}]
}
`)
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
}

func TestLoadRejectsEmptyWorkbook(t *testing.T) {
	_, _, err := LoadSource(`workbook: sheets: {}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one sheet")
}
