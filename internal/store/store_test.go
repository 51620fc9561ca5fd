package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "workbook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testWorkbook() *sheet.Workbook {
	sh := &sheet.Sheet{
		ID: "orders",
		Columns: []*sheet.Column{
			{ID: "A", Type: value.TypeNumber},
			{ID: "B", Type: value.TypeNumber, Formula: &sheet.FormulaDef{Source: "A * 2", Trigger: sheet.TriggerRow}},
		},
		Aggregates: []*sheet.Aggregate{
			{Name: "Total", Formula: sheet.FormulaDef{Source: "sum(B)", Trigger: sheet.TriggerSheet}},
		},
	}
	sh.InsertRow()
	return &sheet.Workbook{Sheets: []*sheet.Sheet{sh}}
}

func testEntry(id string, action audit.Action) *audit.Entry {
	return &audit.Entry{
		ID:     id,
		Time:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Actor:  audit.Actor{ID: "u-1", Name: "dana", Role: audit.RoleUser},
		Action: action,
		Sheet:  "orders",
		Row:    1,
		Col:    "A",
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workbook.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestWorkbookRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitWorkbook(ctx, testWorkbook()))

	ref := sheet.CellRef{Sheet: "orders", Row: 1, Col: "A"}
	e := testEntry("e-1", audit.ActionEditCell)
	e.After = value.Number(3)
	e.PassToken = "pass-1"
	require.NoError(t, s.WriteCellRaw(ctx, ref, value.Number(3), e))

	require.NoError(t, s.CommitPass(ctx, engine.PassCommit{
		Sheet:   "orders",
		Token:   "pass-1",
		Seq:     1,
		Trigger: sheet.TriggerRow,
		Cells: []engine.CellUpdate{
			{Ref: sheet.CellRef{Sheet: "orders", Row: 1, Col: "B"}, Val: value.Number(6)},
		},
		Aggs: []engine.AggUpdate{
			{Ref: sheet.AggRef{Sheet: "orders", Name: "Total"}, Val: value.Number(6)},
		},
	}))

	wb, grid, err := s.LoadWorkbook(ctx)
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	sh := wb.Sheet("orders")
	require.NotNil(t, sh)
	require.Len(t, sh.Columns, 2)
	require.Equal(t, "A * 2", sh.Columns[1].Formula.Source)
	require.Equal(t, []sheet.RowID{1}, sh.ActiveRows())

	require.True(t, value.Equal(value.Number(3), grid.Cell(ref).Raw))
	require.True(t, value.Equal(value.Number(6), grid.Cell(sheet.CellRef{Sheet: "orders", Row: 1, Col: "B"}).Effective()))
	require.True(t, value.Equal(value.Number(6), grid.Agg(sheet.AggRef{Sheet: "orders", Name: "Total"}).Effective()))

	seq, err := s.MaxPassSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
}

func TestLoadRestoresErrorCells(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitWorkbook(ctx, testWorkbook()))

	require.NoError(t, s.CommitPass(ctx, engine.PassCommit{
		Sheet: "orders",
		Token: "pass-1",
		Seq:   1,
		Cells: []engine.CellUpdate{
			{
				Ref: sheet.CellRef{Sheet: "orders", Row: 1, Col: "B"},
				Val: value.NewError(value.CodeTypeMismatch, "expected number"),
			},
		},
	}))

	_, grid, err := s.LoadWorkbook(ctx)
	require.NoError(t, err)
	cell := grid.Cell(sheet.CellRef{Sheet: "orders", Row: 1, Col: "B"})
	require.NotNil(t, cell.Err)
	require.Equal(t, value.CodeTypeMismatch, cell.Err.Code)
	require.True(t, cell.Stale)
}

func TestAuditChainPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitWorkbook(ctx, testWorkbook()))

	ref := sheet.CellRef{Sheet: "orders", Row: 1, Col: "A"}
	for i, id := range []string{"e-1", "e-2", "e-3"} {
		e := testEntry(id, audit.ActionEditCell)
		e.After = value.Number(float64(i))
		require.NoError(t, s.WriteCellRaw(ctx, ref, value.Number(float64(i)), e))
		require.Equal(t, int64(i+1), e.Seq)
	}

	entries, err := s.ReadAudit(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, audit.GenesisHash, entries[0].PrevHash)
	require.Equal(t, entries[0].Hash, entries[1].PrevHash)
	require.NoError(t, s.VerifyChain(ctx))

	// Limit returns the oldest entries first.
	head, err := s.ReadAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, head, 2)
	require.Equal(t, "e-1", head[0].ID)
}

func TestRowLifecyclePersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitWorkbook(ctx, testWorkbook()))

	e := testEntry("e-1", audit.ActionInsertRow)
	e.Row = 2
	require.NoError(t, s.UpsertRow(ctx, "orders", 2, false, e))

	e = testEntry("e-2", audit.ActionDeleteRow)
	e.Row = 1
	require.NoError(t, s.UpsertRow(ctx, "orders", 1, true, e))

	wb, _, err := s.LoadWorkbook(ctx)
	require.NoError(t, err)
	require.Equal(t, []sheet.RowID{2}, wb.Sheet("orders").ActiveRows())

	e = testEntry("e-3", audit.ActionHardDeleteRow)
	e.Row = 2
	require.NoError(t, s.DeleteRowHard(ctx, "orders", 2, e))

	wb, _, err = s.LoadWorkbook(ctx)
	require.NoError(t, err)
	require.Empty(t, wb.Sheet("orders").ActiveRows())
	require.NoError(t, s.VerifyChain(ctx))
}

func TestPutColumnFormulaPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitWorkbook(ctx, testWorkbook()))

	def := &sheet.FormulaDef{Source: "A * 10", Trigger: sheet.TriggerRow}
	e := testEntry("e-1", audit.ActionSetFormula)
	e.Col = "B"
	require.NoError(t, s.PutColumnFormula(ctx, "orders", "B", def, e))

	wb, _, err := s.LoadWorkbook(ctx)
	require.NoError(t, err)
	require.Equal(t, "A * 10", wb.Sheet("orders").Column("B").Formula.Source)

	// Clearing makes it an input column again.
	e = testEntry("e-2", audit.ActionRemoveFormula)
	e.Col = "B"
	require.NoError(t, s.PutColumnFormula(ctx, "orders", "B", nil, e))

	wb, _, err = s.LoadWorkbook(ctx)
	require.NoError(t, err)
	require.Nil(t, wb.Sheet("orders").Column("B").Formula)
}
