package gateway

import (
	"context"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// Persister makes a mutation and its audit entry durable together.
// Each method is one transaction: the mutation row(s) and the sealed
// audit entry commit atomically, so the log never disagrees with the
// data. Implemented by the sqlite store; MemPersister backs tests and
// database-free harness runs.
//
// Pass results are NOT persisted here; the scheduler's Committer
// handles those in a separate transaction. An edit whose recompute
// pass later fails still happened: its raw value and audit entry are
// durable.
type Persister interface {
	WriteCellRaw(ctx context.Context, ref sheet.CellRef, v value.Value, e *audit.Entry) error
	UpsertRow(ctx context.Context, id sheet.SheetID, row sheet.RowID, deleted bool, e *audit.Entry) error
	DeleteRowHard(ctx context.Context, id sheet.SheetID, row sheet.RowID, e *audit.Entry) error
	PutColumnFormula(ctx context.Context, id sheet.SheetID, col sheet.ColumnID, def *sheet.FormulaDef, e *audit.Entry) error
	PutAggregateFormula(ctx context.Context, id sheet.SheetID, name string, def *sheet.FormulaDef, e *audit.Entry) error
	AppendAudit(ctx context.Context, e *audit.Entry) error
}

// MemPersister discards mutations and chains audit entries in memory.
type MemPersister struct {
	Sink audit.MemSink
}

func (m *MemPersister) WriteCellRaw(ctx context.Context, _ sheet.CellRef, _ value.Value, e *audit.Entry) error {
	return m.Sink.Append(ctx, e)
}

func (m *MemPersister) UpsertRow(ctx context.Context, _ sheet.SheetID, _ sheet.RowID, _ bool, e *audit.Entry) error {
	return m.Sink.Append(ctx, e)
}

func (m *MemPersister) DeleteRowHard(ctx context.Context, _ sheet.SheetID, _ sheet.RowID, e *audit.Entry) error {
	return m.Sink.Append(ctx, e)
}

func (m *MemPersister) PutColumnFormula(ctx context.Context, _ sheet.SheetID, _ sheet.ColumnID, _ *sheet.FormulaDef, e *audit.Entry) error {
	return m.Sink.Append(ctx, e)
}

func (m *MemPersister) PutAggregateFormula(ctx context.Context, _ sheet.SheetID, _ string, _ *sheet.FormulaDef, e *audit.Entry) error {
	return m.Sink.Append(ctx, e)
}

func (m *MemPersister) AppendAudit(ctx context.Context, e *audit.Entry) error {
	return m.Sink.Append(ctx, e)
}
