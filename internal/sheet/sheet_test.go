package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/value"
)

func TestParseTrigger(t *testing.T) {
	for _, s := range []string{"row", "sheet", "manual"} {
		trig, err := ParseTrigger(s)
		require.NoError(t, err)
		assert.Equal(t, s, trig.String())
	}
	_, err := ParseTrigger("hourly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown trigger kind "hourly"`)
}

func TestRowLifecycle(t *testing.T) {
	sh := &Sheet{ID: "orders"}

	r1 := sh.InsertRow()
	r2 := sh.InsertRow()
	assert.Equal(t, RowID(1), r1.ID)
	assert.Equal(t, RowID(2), r2.ID)
	assert.Equal(t, []RowID{1, 2}, sh.ActiveRows())

	// Logical delete hides the row from the active set but keeps it
	// findable.
	require.True(t, sh.DeleteRow(1))
	assert.Equal(t, []RowID{2}, sh.ActiveRows())
	require.NotNil(t, sh.Row(1))
	assert.True(t, sh.Row(1).Deleted)

	// IDs are never reused, even after a hard delete.
	require.True(t, sh.HardDeleteRow(2))
	assert.Nil(t, sh.Row(2))
	r3 := sh.InsertRow()
	assert.Equal(t, RowID(3), r3.ID)

	assert.False(t, sh.DeleteRow(99))
	assert.False(t, sh.HardDeleteRow(99))
}

func TestRestoreRowKeepsWatermark(t *testing.T) {
	sh := &Sheet{ID: "orders"}
	sh.RestoreRow(7, false)
	sh.RestoreRow(3, true)

	assert.Equal(t, []RowID{7}, sh.ActiveRows())
	r := sh.InsertRow()
	assert.Equal(t, RowID(8), r.ID, "restored IDs must never be reassigned")
}

func TestColumnLookupAndOrdinals(t *testing.T) {
	sh := &Sheet{
		ID: "orders",
		Columns: []*Column{
			{ID: "A", Type: value.TypeNumber},
			{ID: "B", Type: value.TypeNumber, Formula: &FormulaDef{Source: "A * 2", Trigger: TriggerRow}},
		},
		Aggregates: []*Aggregate{
			{Name: "Total", Formula: FormulaDef{Source: "sum(B)", Trigger: TriggerSheet}},
		},
	}

	assert.False(t, sh.Column("A").Derived())
	assert.True(t, sh.Column("B").Derived())
	assert.Nil(t, sh.Column("Z"))

	assert.Equal(t, 0, sh.ColumnOrdinal("A"))
	assert.Equal(t, 1, sh.ColumnOrdinal("B"))
	assert.Equal(t, -1, sh.ColumnOrdinal("Z"))

	assert.NotNil(t, sh.Aggregate("Total"))
	assert.Equal(t, 0, sh.AggregateOrdinal("Total"))
	assert.Equal(t, -1, sh.AggregateOrdinal("Subtotal"))
}

func TestCellEffective(t *testing.T) {
	var c Cell
	assert.Equal(t, value.Null{}, c.Effective(), "empty cell reads as null")

	c.Computed = value.Number(6)
	assert.Equal(t, value.Number(6), c.Effective())

	e := value.NewError(value.CodeTypeMismatch, "bad input")
	c.Err = &e
	assert.Equal(t, e, c.Effective(), "an error shadows the last good value")
}

func TestGridSetErrorKeepsLastGoodValue(t *testing.T) {
	g := NewGrid()
	ref := CellRef{Sheet: "orders", Row: 1, Col: "B"}

	g.SetComputed(ref, value.Number(6))
	g.SetError(ref, value.NewError(value.CodeRuntimeFault, "division by zero"))

	c := g.Cell(ref)
	assert.True(t, c.Stale)
	assert.Equal(t, value.Number(6), c.Computed)
	assert.True(t, value.IsError(c.Effective()))

	// A successful recompute clears both the error and the flag.
	g.SetComputed(ref, value.Number(8))
	c = g.Cell(ref)
	assert.False(t, c.Stale)
	assert.Nil(t, c.Err)
	assert.Equal(t, value.Number(8), c.Effective())
}

func TestGridRawAndComputedAreIndependent(t *testing.T) {
	g := NewGrid()
	ref := CellRef{Sheet: "orders", Row: 1, Col: "A"}

	g.SetRaw(ref, value.Number(3))
	g.MarkStale(ref)

	c := g.Cell(ref)
	assert.Equal(t, value.Number(3), c.Raw)
	assert.True(t, c.Stale)
	assert.Equal(t, value.Null{}, c.Effective(), "raw values never leak through Effective")
}

func TestGridSnapshotRestore(t *testing.T) {
	g := NewGrid()
	ref := CellRef{Sheet: "orders", Row: 1, Col: "B"}
	agg := AggRef{Sheet: "orders", Name: "Total"}
	other := CellRef{Sheet: "parts", Row: 1, Col: "X"}

	g.SetComputed(ref, value.Number(6))
	g.SetAggComputed(agg, value.Number(6))
	g.SetComputed(other, value.Number(99))

	snap := g.SnapshotSheet("orders")

	g.SetComputed(ref, value.Number(1000))
	g.SetAggComputed(agg, value.Number(1000))
	g.SetComputed(CellRef{Sheet: "orders", Row: 2, Col: "B"}, value.Number(5))

	g.Restore(snap)

	assert.Equal(t, value.Number(6), g.Cell(ref).Effective())
	assert.Equal(t, value.Number(6), g.Agg(agg).Effective())
	assert.Equal(t, value.Null{}, g.Cell(CellRef{Sheet: "orders", Row: 2, Col: "B"}).Effective(),
		"cells written after the snapshot must vanish on restore")
	assert.Equal(t, value.Number(99), g.Cell(other).Effective(),
		"other sheets are untouched by restore")
}

func TestGridDropRow(t *testing.T) {
	g := NewGrid()
	g.SetRaw(CellRef{Sheet: "orders", Row: 1, Col: "A"}, value.Number(1))
	g.SetRaw(CellRef{Sheet: "orders", Row: 2, Col: "A"}, value.Number(2))

	g.DropRow("orders", 1)

	assert.Equal(t, value.Value(nil), g.Cell(CellRef{Sheet: "orders", Row: 1, Col: "A"}).Raw)
	assert.Equal(t, value.Number(2), g.Cell(CellRef{Sheet: "orders", Row: 2, Col: "A"}).Raw)
}

func TestRefStrings(t *testing.T) {
	assert.Equal(t, "orders!3.B", CellRef{Sheet: "orders", Row: 3, Col: "B"}.String())
	assert.Equal(t, "orders!Total", AggRef{Sheet: "orders", Name: "Total"}.String())
}
