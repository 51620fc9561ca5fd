// Package sheet holds the tabular model: sheets, columns, rows,
// aggregates, formula definitions, and the in-memory cell store.
//
// The model owns structure; cell values live in the Grid. Formula
// sources are kept here as authored text, while their compiled form
// lives in the dependency graph.
package sheet

import (
	"fmt"
	"slices"

	"github.com/cascadehq/cascade/internal/value"
)

// SheetID identifies a sheet within a workbook.
type SheetID string

// ColumnID identifies a column within a sheet. Column IDs are the
// names formulas reference ("A", "Fm", "Pr", ...).
type ColumnID string

// RowID identifies a row within a sheet. IDs are assigned in insert
// order and never reused; ascending RowID is the authoritative row
// order.
type RowID int64

// TriggerKind classifies when a formula re-evaluates.
type TriggerKind int

const (
	// TriggerRow re-evaluates per affected row on any edit feeding it.
	TriggerRow TriggerKind = iota + 1
	// TriggerSheet re-evaluates once per pass on any change in the sheet.
	TriggerSheet
	// TriggerManual re-evaluates only on explicit request.
	TriggerManual
)

// String returns the lowercase trigger name used in definitions.
func (t TriggerKind) String() string {
	switch t {
	case TriggerRow:
		return "row"
	case TriggerSheet:
		return "sheet"
	case TriggerManual:
		return "manual"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

// ParseTrigger parses a trigger name from a workbook definition.
func ParseTrigger(s string) (TriggerKind, error) {
	switch s {
	case "row":
		return TriggerRow, nil
	case "sheet":
		return TriggerSheet, nil
	case "manual":
		return TriggerManual, nil
	}
	return 0, fmt.Errorf("unknown trigger kind %q (want row, sheet, or manual)", s)
}

// FormulaDef is an authored formula: source text plus trigger kind.
// The declared dependency set is extracted at save time by the parser
// and lives in the dependency graph, not here.
type FormulaDef struct {
	Source  string
	Trigger TriggerKind
}

// Column is a typed column definition. A column with a formula is
// derived; one without is input.
type Column struct {
	ID      ColumnID
	Type    value.Type
	Formula *FormulaDef // nil for input columns
}

// Derived reports whether the column's cells are formula-owned.
func (c *Column) Derived() bool {
	return c.Formula != nil
}

// Row is one row of a sheet. Rows are logically deleted on removal;
// hard deletion is reserved for the highest privilege.
type Row struct {
	ID      RowID
	Deleted bool
}

// Aggregate is a named sheet-scoped scalar ("Total"). Its formula may
// read any column in the sheet; trigger is sheet or manual.
type Aggregate struct {
	Name    string
	Formula FormulaDef
}

// Sheet is an ordered collection of columns and rows. Column order is
// stable and is the authoritative render order.
type Sheet struct {
	ID         SheetID
	Columns    []*Column
	Rows       []*Row
	Aggregates []*Aggregate

	nextRow RowID
}

// Column returns the column with the given ID, or nil.
func (s *Sheet) Column(id ColumnID) *Column {
	for _, c := range s.Columns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// ColumnOrdinal returns the position of a column in render order,
// or -1 if absent. Used as the topological tie-break key.
func (s *Sheet) ColumnOrdinal(id ColumnID) int {
	for i, c := range s.Columns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// AggregateOrdinal returns the declaration position of an aggregate,
// or -1 if absent.
func (s *Sheet) AggregateOrdinal(name string) int {
	for i, a := range s.Aggregates {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Aggregate returns the named aggregate, or nil.
func (s *Sheet) Aggregate(name string) *Aggregate {
	for _, a := range s.Aggregates {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Row returns the row with the given ID, or nil. Logically deleted
// rows are still found; callers check Deleted where it matters.
func (s *Sheet) Row(id RowID) *Row {
	for _, r := range s.Rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// ActiveRows returns the IDs of non-deleted rows in ascending order.
func (s *Sheet) ActiveRows() []RowID {
	ids := make([]RowID, 0, len(s.Rows))
	for _, r := range s.Rows {
		if !r.Deleted {
			ids = append(ids, r.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// InsertRow appends a new row and returns it.
func (s *Sheet) InsertRow() *Row {
	s.nextRow++
	r := &Row{ID: s.nextRow}
	s.Rows = append(s.Rows, r)
	return r
}

// RestoreRow re-adds a persisted row during workbook load, keeping the
// next-ID watermark ahead of every restored row.
func (s *Sheet) RestoreRow(id RowID, deleted bool) *Row {
	r := &Row{ID: id, Deleted: deleted}
	s.Rows = append(s.Rows, r)
	if id > s.nextRow {
		s.nextRow = id
	}
	return r
}

// DeleteRow marks a row deleted. Returns false if the row is unknown.
func (s *Sheet) DeleteRow(id RowID) bool {
	r := s.Row(id)
	if r == nil {
		return false
	}
	r.Deleted = true
	return true
}

// HardDeleteRow removes a row entirely. Reserved for the highest
// privilege; returns false if the row is unknown.
func (s *Sheet) HardDeleteRow(id RowID) bool {
	for i, r := range s.Rows {
		if r.ID == id {
			s.Rows = append(s.Rows[:i], s.Rows[i+1:]...)
			return true
		}
	}
	return false
}

// Workbook is the document: an ordered set of sheets.
type Workbook struct {
	Sheets []*Sheet
}

// Sheet returns the sheet with the given ID, or nil.
func (w *Workbook) Sheet(id SheetID) *Sheet {
	for _, s := range w.Sheets {
		if s.ID == id {
			return s
		}
	}
	return nil
}
