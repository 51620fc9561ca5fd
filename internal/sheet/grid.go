package sheet

import (
	"sync"

	"github.com/cascadehq/cascade/internal/value"
)

// Cell holds one cell's state. An input cell carries only Raw; a
// derived cell carries Computed (written only by the recompute
// scheduler), an optional error value, and a stale flag. When Err is
// set, Computed retains the last good value and Stale is true.
type Cell struct {
	Raw      value.Value
	Computed value.Value
	Err      *value.Error
	Stale    bool
}

// Effective is what downstream readers see: the error if present,
// otherwise the computed value.
func (c Cell) Effective() value.Value {
	if c.Err != nil {
		return *c.Err
	}
	if c.Computed == nil {
		return value.Null{}
	}
	return c.Computed
}

// Grid is the in-memory cell store. It exclusively owns cell values;
// the dependency graph never touches cell data and the evaluator
// retains nothing across calls.
//
// Writes are serialized per sheet by the callers (gateway/scheduler);
// the internal lock only keeps concurrent readers of other sheets
// safe against those writes.
type Grid struct {
	mu    sync.RWMutex
	cells map[CellRef]Cell
	aggs  map[AggRef]Cell
}

// NewGrid creates an empty grid.
func NewGrid() *Grid {
	return &Grid{
		cells: make(map[CellRef]Cell),
		aggs:  make(map[AggRef]Cell),
	}
}

// Cell returns a copy of the cell at ref. Missing cells read as zero
// (null raw, null computed, not stale).
func (g *Grid) Cell(ref CellRef) Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells[ref]
}

// Agg returns a copy of the aggregate cell at ref.
func (g *Grid) Agg(ref AggRef) Cell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.aggs[ref]
}

// SetRaw writes a raw input value. Only the mutation gateway calls
// this; derived cells never carry raw values.
func (g *Grid) SetRaw(ref CellRef, v value.Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.cells[ref]
	c.Raw = v
	g.cells[ref] = c
}

// SetComputed commits a recomputed value, clearing any error and the
// stale flag. Only the recompute scheduler calls this.
func (g *Grid) SetComputed(ref CellRef, v value.Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.cells[ref]
	c.Computed = v
	c.Err = nil
	c.Stale = false
	g.cells[ref] = c
}

// SetError records an evaluation failure: the error value is attached,
// the previous computed value is retained, and the cell is stale.
func (g *Grid) SetError(ref CellRef, e value.Error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.cells[ref]
	c.Err = &e
	c.Stale = true
	g.cells[ref] = c
}

// MarkStale flags a derived cell whose upstream changed but which has
// not been recomputed (e.g. the remainder of a cancelled pass).
func (g *Grid) MarkStale(ref CellRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.cells[ref]
	c.Stale = true
	g.cells[ref] = c
}

// SetAggComputed commits an aggregate value.
func (g *Grid) SetAggComputed(ref AggRef, v value.Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.aggs[ref]
	c.Computed = v
	c.Err = nil
	c.Stale = false
	g.aggs[ref] = c
}

// SetAggError records an aggregate evaluation failure.
func (g *Grid) SetAggError(ref AggRef, e value.Error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.aggs[ref]
	c.Err = &e
	c.Stale = true
	g.aggs[ref] = c
}

// MarkAggStale flags an aggregate as stale.
func (g *Grid) MarkAggStale(ref AggRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.aggs[ref]
	c.Stale = true
	g.aggs[ref] = c
}

// RestoreCell reinstates a fully-formed cell. Used by the store when
// rehydrating a workbook and by pass rollback.
func (g *Grid) RestoreCell(ref CellRef, c Cell) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cells[ref] = c
}

// RestoreAgg reinstates a fully-formed aggregate cell.
func (g *Grid) RestoreAgg(ref AggRef, c Cell) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aggs[ref] = c
}

// DropRow removes all cell state for a hard-deleted row.
func (g *Grid) DropRow(id SheetID, row RowID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ref := range g.cells {
		if ref.Sheet == id && ref.Row == row {
			delete(g.cells, ref)
		}
	}
}

// Snapshot captures all cell and aggregate state for one sheet so an
// aborted pass can roll the grid back.
type Snapshot struct {
	sheet SheetID
	cells map[CellRef]Cell
	aggs  map[AggRef]Cell
}

// SnapshotSheet copies the current state of one sheet.
func (g *Grid) SnapshotSheet(id SheetID) *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := &Snapshot{
		sheet: id,
		cells: make(map[CellRef]Cell),
		aggs:  make(map[AggRef]Cell),
	}
	for ref, c := range g.cells {
		if ref.Sheet == id {
			snap.cells[ref] = c
		}
	}
	for ref, c := range g.aggs {
		if ref.Sheet == id {
			snap.aggs[ref] = c
		}
	}
	return snap
}

// Restore puts a sheet back to a snapshot taken before a failed pass.
func (g *Grid) Restore(snap *Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ref := range g.cells {
		if ref.Sheet == snap.sheet {
			delete(g.cells, ref)
		}
	}
	for ref := range g.aggs {
		if ref.Sheet == snap.sheet {
			delete(g.aggs, ref)
		}
	}
	for ref, c := range snap.cells {
		g.cells[ref] = c
	}
	for ref, c := range snap.aggs {
		g.aggs[ref] = c
	}
}
