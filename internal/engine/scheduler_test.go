package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/formula"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// fixture wires a sheet with input A, derived B = A * 2, and aggregate
// Total = sum(B) through a fresh graph and grid.
type fixture struct {
	sh   *sheet.Sheet
	g    *graph.Graph
	grid *sheet.Grid
	mem  *MemCommitter
}

func newFixture(t *testing.T, rows int) *fixture {
	t.Helper()
	f := &fixture{
		sh: &sheet.Sheet{
			ID: "orders",
			Columns: []*sheet.Column{
				{ID: "A", Type: value.TypeNumber},
				{ID: "B", Type: value.TypeNumber, Formula: &sheet.FormulaDef{Source: "A * 2", Trigger: sheet.TriggerRow}},
			},
			Aggregates: []*sheet.Aggregate{
				{Name: "Total", Formula: sheet.FormulaDef{Source: "sum(B)", Trigger: sheet.TriggerSheet}},
			},
		},
		g:    graph.New(),
		grid: sheet.NewGrid(),
		mem:  &MemCommitter{},
	}
	for i := 0; i < rows; i++ {
		f.sh.InsertRow()
	}

	pb, err := formula.Parse("A * 2")
	require.NoError(t, err)
	require.NoError(t, f.g.AddOrReplaceColumnFormula(f.sh, "B", pb, sheet.TriggerRow))
	pt, err := formula.Parse("sum(B)")
	require.NoError(t, err)
	require.NoError(t, f.g.AddOrReplaceAggregate(f.sh, "Total", pt, sheet.TriggerSheet))
	return f
}

func (f *fixture) scheduler(t *testing.T, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	return NewScheduler(f.g, f.grid, f.mem, NewFixedGenerator(
		"pass-1", "pass-2", "pass-3", "pass-4",
	), opts...)
}

func (f *fixture) cell(row sheet.RowID, col sheet.ColumnID) sheet.CellRef {
	return sheet.CellRef{Sheet: f.sh.ID, Row: row, Col: col}
}

func (f *fixture) total() sheet.AggRef {
	return sheet.AggRef{Sheet: f.sh.ID, Name: "Total"}
}

func TestPassEditPropagates(t *testing.T) {
	f := newFixture(t, 1)
	s := f.scheduler(t)

	f.grid.SetRaw(f.cell(1, "A"), value.Number(3))
	res := s.Run(context.Background(), f.sh, []sheet.CellRef{f.cell(1, "A")}, sheet.TriggerRow, graph.ClosureOptions{})

	require.Equal(t, StateCommitted, res.State)
	require.NoError(t, res.Err)
	require.Equal(t, "pass-1", res.Token)
	require.Equal(t, int64(1), res.Seq)
	require.Equal(t, 2, res.Nodes)
	require.Equal(t, 2, res.Evaluated)
	require.Zero(t, res.Errored)

	require.True(t, value.Equal(value.Number(6), f.grid.Cell(f.cell(1, "B")).Effective()))
	require.True(t, value.Equal(value.Number(6), f.grid.Agg(f.total()).Effective()))

	require.Len(t, f.mem.Commits, 1)
	commit := f.mem.Commits[0]
	require.Equal(t, "pass-1", commit.Token)
	require.Len(t, commit.Cells, 1)
	require.True(t, value.Equal(value.Number(6), commit.Cells[0].Val))
	require.Len(t, commit.Aggs, 1)
	require.True(t, value.Equal(value.Number(6), commit.Aggs[0].Val))

	// The committed values ride back on the result so callers can
	// render what changed without re-reading the grid.
	require.Len(t, res.Updates, 1)
	require.Equal(t, f.cell(1, "B"), res.Updates[0].Ref)
	require.True(t, value.Equal(value.Number(6), res.Updates[0].Val))
	require.Len(t, res.AggUpdates, 1)
	require.Equal(t, f.total(), res.AggUpdates[0].Ref)
	require.True(t, value.Equal(value.Number(6), res.AggUpdates[0].Val))
}

func TestPassIsDeterministic(t *testing.T) {
	f := newFixture(t, 3)
	s := f.scheduler(t)

	for row := sheet.RowID(1); row <= 3; row++ {
		f.grid.SetRaw(f.cell(row, "A"), value.Number(float64(row)))
	}

	first := s.Run(context.Background(), f.sh, []sheet.CellRef{f.cell(1, "A"), f.cell(2, "A"), f.cell(3, "A")}, sheet.TriggerRow, graph.ClosureOptions{})
	require.Equal(t, StateCommitted, first.State)
	require.True(t, value.Equal(value.Number(12), f.grid.Agg(f.total()).Effective()))

	// Re-running the same trigger commits identical values under a new
	// seq: same inputs, same results, no drift.
	second := s.Run(context.Background(), f.sh, []sheet.CellRef{f.cell(1, "A"), f.cell(2, "A"), f.cell(3, "A")}, sheet.TriggerRow, graph.ClosureOptions{})
	require.Equal(t, StateCommitted, second.State)
	require.Equal(t, first.Seq+1, second.Seq)
	require.True(t, value.Equal(value.Number(12), f.grid.Agg(f.total()).Effective()))

	require.Len(t, f.mem.Commits, 2)
	require.Len(t, f.mem.Commits[0].Cells, len(f.mem.Commits[1].Cells))
	for i := range f.mem.Commits[0].Cells {
		require.Equal(t, f.mem.Commits[0].Cells[i].Ref, f.mem.Commits[1].Cells[i].Ref)
		require.True(t, value.Equal(f.mem.Commits[0].Cells[i].Val, f.mem.Commits[1].Cells[i].Val))
	}
}

func TestPassErrorIsDataNotFailure(t *testing.T) {
	f := newFixture(t, 1)
	s := f.scheduler(t)

	// Establish a good value first so we can check it is retained.
	f.grid.SetRaw(f.cell(1, "A"), value.Number(3))
	res := s.Run(context.Background(), f.sh, []sheet.CellRef{f.cell(1, "A")}, sheet.TriggerRow, graph.ClosureOptions{})
	require.Equal(t, StateCommitted, res.State)

	// Raw edits are not typed; the mismatch surfaces at evaluation.
	f.grid.SetRaw(f.cell(1, "A"), value.String("not a number"))
	res = s.Run(context.Background(), f.sh, []sheet.CellRef{f.cell(1, "A")}, sheet.TriggerRow, graph.ClosureOptions{})

	require.Equal(t, StateCommitted, res.State, "formula errors must not fail the pass")
	require.Equal(t, 2, res.Errored)

	b := f.grid.Cell(f.cell(1, "B"))
	require.NotNil(t, b.Err)
	require.Equal(t, value.CodeTypeMismatch, b.Err.Code)
	require.True(t, b.Stale)
	require.True(t, value.Equal(value.Number(6), b.Computed), "last good value retained alongside the error")

	// The error propagated into the aggregate as data, same code.
	total := f.grid.Agg(f.total())
	require.NotNil(t, total.Err)
	require.Equal(t, value.CodeTypeMismatch, total.Err.Code)

	// And the committed payload carries the error values.
	commit := f.mem.Commits[len(f.mem.Commits)-1]
	require.True(t, value.IsError(commit.Cells[0].Val))
}

func TestPassNodeQuota(t *testing.T) {
	f := newFixture(t, 3)
	s := f.scheduler(t, WithMaxNodes(2))

	f.grid.SetRaw(f.cell(1, "A"), value.Number(1))
	res := s.Run(context.Background(), f.sh, []sheet.CellRef{
		f.cell(1, "A"), f.cell(2, "A"), f.cell(3, "A"),
	}, sheet.TriggerRow, graph.ClosureOptions{})

	require.Equal(t, StateFailed, res.State)
	require.True(t, IsNodesExceededError(res.Err))
	require.Empty(t, f.mem.Commits, "a failed pass must not commit")
	require.Nil(t, f.grid.Cell(f.cell(1, "B")).Computed, "a failed pass must not touch the grid")
}

func TestPassCancellation(t *testing.T) {
	f := newFixture(t, 1)
	s := f.scheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.grid.SetRaw(f.cell(1, "A"), value.Number(3))
	res := s.Run(ctx, f.sh, []sheet.CellRef{f.cell(1, "A")}, sheet.TriggerRow, graph.ClosureOptions{})

	require.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Empty(t, f.mem.Commits)

	// The unevaluated remainder is flagged stale for readers.
	require.True(t, f.grid.Cell(f.cell(1, "B")).Stale)
	require.True(t, f.grid.Agg(f.total()).Stale)
}

type errCommitter struct{ err error }

func (c errCommitter) CommitPass(context.Context, PassCommit) error { return c.err }

func TestPassCommitFailureRollsBackGrid(t *testing.T) {
	f := newFixture(t, 1)
	boom := errors.New("disk full")

	good := NewScheduler(f.g, f.grid, f.mem, NewFixedGenerator("pass-1"))
	f.grid.SetRaw(f.cell(1, "A"), value.Number(3))
	res := good.Run(context.Background(), f.sh, []sheet.CellRef{f.cell(1, "A")}, sheet.TriggerRow, graph.ClosureOptions{})
	require.Equal(t, StateCommitted, res.State)

	bad := NewScheduler(f.g, f.grid, errCommitter{boom}, NewFixedGenerator("pass-2"))
	f.grid.SetRaw(f.cell(1, "A"), value.Number(10))
	res = bad.Run(context.Background(), f.sh, []sheet.CellRef{f.cell(1, "A")}, sheet.TriggerRow, graph.ClosureOptions{})

	require.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, boom)
	require.Nil(t, res.Updates, "a failed pass reports no updates")
	require.Nil(t, res.AggUpdates)

	// Memory never gets ahead of disk: B rolled back to the last
	// committed value. (The raw edit's durability is the gateway's
	// problem, not the scheduler's.)
	require.True(t, value.Equal(value.Number(6), f.grid.Cell(f.cell(1, "B")).Effective()))
	require.True(t, value.Equal(value.Number(6), f.grid.Agg(f.total()).Effective()))
}

func TestPassNoDerivedDependents(t *testing.T) {
	f := newFixture(t, 1)
	s := f.scheduler(t)

	// An edit with an empty closure still commits (raw durability and
	// seq advance), with zero nodes.
	sh := &sheet.Sheet{ID: "notes", Columns: []*sheet.Column{{ID: "Text", Type: value.TypeString}}}
	sh.InsertRow()
	res := s.Run(context.Background(), sh, []sheet.CellRef{{Sheet: "notes", Row: 1, Col: "Text"}}, sheet.TriggerRow, graph.ClosureOptions{})

	require.Equal(t, StateCommitted, res.State)
	require.Zero(t, res.Nodes)
	require.Len(t, f.mem.Commits, 1)
	require.Empty(t, f.mem.Commits[0].Cells)
}

func TestPassManualRecompute(t *testing.T) {
	f := newFixture(t, 2)
	s := f.scheduler(t)

	f.grid.SetRaw(f.cell(1, "A"), value.Number(1))
	f.grid.SetRaw(f.cell(2, "A"), value.Number(2))

	res := s.Run(context.Background(), f.sh, nil, sheet.TriggerManual, graph.ClosureOptions{RecomputeAll: true})
	require.Equal(t, StateCommitted, res.State)
	require.Equal(t, 3, res.Nodes)
	require.True(t, value.Equal(value.Number(6), f.grid.Agg(f.total()).Effective()))
}

func TestPassStateTransitions(t *testing.T) {
	require.True(t, validTransition(StateReceived, StateClosureComputed))
	require.True(t, validTransition(StateClosureComputed, StateEvaluating))
	require.True(t, validTransition(StateEvaluating, StateCommitted))
	require.True(t, validTransition(StateEvaluating, StateFailed))
	require.False(t, validTransition(StateCommitted, StateEvaluating))
	require.False(t, validTransition(StateFailed, StateReceived))
	require.False(t, validTransition(StateReceived, StateCommitted))

	require.True(t, StateCommitted.terminal())
	require.True(t, StateFailed.terminal())
	require.False(t, StateEvaluating.terminal())
	require.Equal(t, "CLOSURE_COMPUTED", StateClosureComputed.String())
}

func TestClockMonotonic(t *testing.T) {
	c := NewClockAt(41)
	require.Equal(t, int64(41), c.Current())
	require.Equal(t, int64(42), c.Next())
	require.Equal(t, int64(43), c.Next())
	require.Equal(t, int64(43), c.Current())
}
