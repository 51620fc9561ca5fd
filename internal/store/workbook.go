package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// InitWorkbook writes a workbook's definitions (sheets, columns,
// aggregates, rows) into a fresh database. Fails if any sheet already
// exists; a workbook database is initialized exactly once.
func (s *Store) InitWorkbook(ctx context.Context, wb *sheet.Workbook) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init workbook: %w", err)
	}
	defer tx.Rollback()

	for pos, sh := range wb.Sheets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sheets (id, position) VALUES (?, ?)`,
			string(sh.ID), pos,
		); err != nil {
			return fmt.Errorf("init sheet %s: %w", sh.ID, err)
		}
		for cpos, col := range sh.Columns {
			var src, trig sql.NullString
			if col.Formula != nil {
				src = sql.NullString{String: col.Formula.Source, Valid: true}
				trig = sql.NullString{String: col.Formula.Trigger.String(), Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO columns (sheet_id, id, position, type, formula_src, formula_trigger)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				string(sh.ID), string(col.ID), cpos, string(col.Type), src, trig,
			); err != nil {
				return fmt.Errorf("init column %s.%s: %w", sh.ID, col.ID, err)
			}
		}
		for apos, agg := range sh.Aggregates {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO aggregates (sheet_id, name, position, formula_src, formula_trigger)
				 VALUES (?, ?, ?, ?, ?)`,
				string(sh.ID), agg.Name, apos, agg.Formula.Source, agg.Formula.Trigger.String(),
			); err != nil {
				return fmt.Errorf("init aggregate %s!%s: %w", sh.ID, agg.Name, err)
			}
		}
		for _, row := range sh.Rows {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rows (sheet_id, id, deleted) VALUES (?, ?, ?)`,
				string(sh.ID), int64(row.ID), row.Deleted,
			); err != nil {
				return fmt.Errorf("init row %s/%d: %w", sh.ID, row.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadWorkbook rebuilds the in-memory model and grid from the
// database. A cell whose stored value is a tagged error object comes
// back as an errored cell (the pre-error computed value is not
// persisted; only the effective value survives a restart).
func (s *Store) LoadWorkbook(ctx context.Context) (*sheet.Workbook, *sheet.Grid, error) {
	wb := &sheet.Workbook{}
	grid := sheet.NewGrid()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sheets ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sheets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("scan sheet: %w", err)
		}
		wb.Sheets = append(wb.Sheets, &sheet.Sheet{ID: sheet.SheetID(id)})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load sheets: %w", err)
	}

	for _, sh := range wb.Sheets {
		if err := s.loadSheet(ctx, sh, grid); err != nil {
			return nil, nil, err
		}
	}
	return wb, grid, nil
}

func (s *Store) loadSheet(ctx context.Context, sh *sheet.Sheet, grid *sheet.Grid) error {
	cols, err := s.db.QueryContext(ctx,
		`SELECT id, type, formula_src, formula_trigger
		 FROM columns WHERE sheet_id = ? ORDER BY position`, string(sh.ID))
	if err != nil {
		return fmt.Errorf("load columns of %s: %w", sh.ID, err)
	}
	defer cols.Close()
	for cols.Next() {
		var id, typ string
		var src, trig sql.NullString
		if err := cols.Scan(&id, &typ, &src, &trig); err != nil {
			return fmt.Errorf("scan column of %s: %w", sh.ID, err)
		}
		vt, err := value.ParseType(typ)
		if err != nil {
			return fmt.Errorf("column %s.%s: %w", sh.ID, id, err)
		}
		col := &sheet.Column{ID: sheet.ColumnID(id), Type: vt}
		if src.Valid {
			trigger, err := sheet.ParseTrigger(trig.String)
			if err != nil {
				return fmt.Errorf("column %s.%s: %w", sh.ID, id, err)
			}
			col.Formula = &sheet.FormulaDef{Source: src.String, Trigger: trigger}
		}
		sh.Columns = append(sh.Columns, col)
	}
	if err := cols.Err(); err != nil {
		return fmt.Errorf("load columns of %s: %w", sh.ID, err)
	}

	aggs, err := s.db.QueryContext(ctx,
		`SELECT name, formula_src, formula_trigger, value, stale
		 FROM aggregates WHERE sheet_id = ? ORDER BY position`, string(sh.ID))
	if err != nil {
		return fmt.Errorf("load aggregates of %s: %w", sh.ID, err)
	}
	defer aggs.Close()
	for aggs.Next() {
		var name, src, trig string
		var stored sql.NullString
		var stale bool
		if err := aggs.Scan(&name, &src, &trig, &stored, &stale); err != nil {
			return fmt.Errorf("scan aggregate of %s: %w", sh.ID, err)
		}
		trigger, err := sheet.ParseTrigger(trig)
		if err != nil {
			return fmt.Errorf("aggregate %s!%s: %w", sh.ID, name, err)
		}
		sh.Aggregates = append(sh.Aggregates, &sheet.Aggregate{
			Name:    name,
			Formula: sheet.FormulaDef{Source: src, Trigger: trigger},
		})
		v, err := unmarshalValue(stored)
		if err != nil {
			return fmt.Errorf("aggregate %s!%s: %w", sh.ID, name, err)
		}
		if v != nil || stale {
			grid.RestoreAgg(sheet.AggRef{Sheet: sh.ID, Name: name}, restoredCell(v, stale))
		}
	}
	if err := aggs.Err(); err != nil {
		return fmt.Errorf("load aggregates of %s: %w", sh.ID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deleted FROM rows WHERE sheet_id = ? ORDER BY id`, string(sh.ID))
	if err != nil {
		return fmt.Errorf("load rows of %s: %w", sh.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var deleted bool
		if err := rows.Scan(&id, &deleted); err != nil {
			return fmt.Errorf("scan row of %s: %w", sh.ID, err)
		}
		sh.RestoreRow(sheet.RowID(id), deleted)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load rows of %s: %w", sh.ID, err)
	}

	cells, err := s.db.QueryContext(ctx,
		`SELECT row_id, col_id, raw, computed, stale
		 FROM cells WHERE sheet_id = ? ORDER BY row_id, col_id`, string(sh.ID))
	if err != nil {
		return fmt.Errorf("load cells of %s: %w", sh.ID, err)
	}
	defer cells.Close()
	for cells.Next() {
		var rowID int64
		var colID string
		var raw, computed sql.NullString
		var stale bool
		if err := cells.Scan(&rowID, &colID, &raw, &computed, &stale); err != nil {
			return fmt.Errorf("scan cell of %s: %w", sh.ID, err)
		}
		rawVal, err := unmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("cell %s!%d.%s raw: %w", sh.ID, rowID, colID, err)
		}
		compVal, err := unmarshalValue(computed)
		if err != nil {
			return fmt.Errorf("cell %s!%d.%s computed: %w", sh.ID, rowID, colID, err)
		}
		cell := restoredCell(compVal, stale)
		cell.Raw = rawVal
		grid.RestoreCell(sheet.CellRef{Sheet: sh.ID, Row: sheet.RowID(rowID), Col: sheet.ColumnID(colID)}, cell)
	}
	return cells.Err()
}

// restoredCell reconstructs a cell from its stored effective value:
// tagged errors come back as errored cells.
func restoredCell(v value.Value, stale bool) sheet.Cell {
	c := sheet.Cell{Stale: stale}
	if errVal, ok := v.(value.Error); ok {
		c.Err = &errVal
		c.Stale = true
		return c
	}
	c.Computed = v
	return c
}
