package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// The store implements gateway.Persister: each mutation and its audit
// entry commit in one transaction, so the log can never disagree with
// the data.

// WriteCellRaw upserts a raw cell value and appends the audit entry.
func (s *Store) WriteCellRaw(ctx context.Context, ref sheet.CellRef, v value.Value, e *audit.Entry) error {
	raw, err := marshalValue(v)
	if err != nil {
		return fmt.Errorf("write cell %s: %w", ref, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write cell %s: %w", ref, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cells (sheet_id, row_id, col_id, raw) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sheet_id, row_id, col_id) DO UPDATE SET raw = excluded.raw`,
		string(ref.Sheet), int64(ref.Row), string(ref.Col), raw,
	); err != nil {
		return fmt.Errorf("write cell %s: %w", ref, err)
	}
	if err := s.appendAuditTx(ctx, tx, e); err != nil {
		return fmt.Errorf("write cell %s: %w", ref, err)
	}
	return tx.Commit()
}

// UpsertRow inserts a row or flips its deleted flag, with audit.
func (s *Store) UpsertRow(ctx context.Context, id sheet.SheetID, row sheet.RowID, deleted bool, e *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert row %s/%d: %w", id, row, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rows (sheet_id, id, deleted) VALUES (?, ?, ?)
		 ON CONFLICT(sheet_id, id) DO UPDATE SET deleted = excluded.deleted`,
		string(id), int64(row), deleted,
	); err != nil {
		return fmt.Errorf("upsert row %s/%d: %w", id, row, err)
	}
	if err := s.appendAuditTx(ctx, tx, e); err != nil {
		return fmt.Errorf("upsert row %s/%d: %w", id, row, err)
	}
	return tx.Commit()
}

// DeleteRowHard removes a row and its cells permanently, with audit.
func (s *Store) DeleteRowHard(ctx context.Context, id sheet.SheetID, row sheet.RowID, e *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("hard delete row %s/%d: %w", id, row, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cells WHERE sheet_id = ? AND row_id = ?`,
		string(id), int64(row),
	); err != nil {
		return fmt.Errorf("hard delete row %s/%d: %w", id, row, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rows WHERE sheet_id = ? AND id = ?`,
		string(id), int64(row),
	); err != nil {
		return fmt.Errorf("hard delete row %s/%d: %w", id, row, err)
	}
	if err := s.appendAuditTx(ctx, tx, e); err != nil {
		return fmt.Errorf("hard delete row %s/%d: %w", id, row, err)
	}
	return tx.Commit()
}

// PutColumnFormula stores or clears a column's formula, with audit.
// A nil def turns the column back into an input column.
func (s *Store) PutColumnFormula(ctx context.Context, id sheet.SheetID, col sheet.ColumnID, def *sheet.FormulaDef, e *audit.Entry) error {
	var src, trig sql.NullString
	if def != nil {
		src = sql.NullString{String: def.Source, Valid: true}
		trig = sql.NullString{String: def.Trigger.String(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put formula %s.%s: %w", id, col, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE columns SET formula_src = ?, formula_trigger = ? WHERE sheet_id = ? AND id = ?`,
		src, trig, string(id), string(col),
	)
	if err != nil {
		return fmt.Errorf("put formula %s.%s: %w", id, col, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("put formula %s.%s: column not in database", id, col)
	}
	if err := s.appendAuditTx(ctx, tx, e); err != nil {
		return fmt.Errorf("put formula %s.%s: %w", id, col, err)
	}
	return tx.Commit()
}

// PutAggregateFormula stores an aggregate's formula, with audit.
func (s *Store) PutAggregateFormula(ctx context.Context, id sheet.SheetID, name string, def *sheet.FormulaDef, e *audit.Entry) error {
	if def == nil {
		return errors.New("aggregate formulas cannot be removed, only replaced")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put formula %s!%s: %w", id, name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE aggregates SET formula_src = ?, formula_trigger = ? WHERE sheet_id = ? AND name = ?`,
		def.Source, def.Trigger.String(), string(id), name,
	)
	if err != nil {
		return fmt.Errorf("put formula %s!%s: %w", id, name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("put formula %s!%s: aggregate not in database", id, name)
	}
	if err := s.appendAuditTx(ctx, tx, e); err != nil {
		return fmt.Errorf("put formula %s!%s: %w", id, name, err)
	}
	return tx.Commit()
}

// AppendAudit appends a standalone audit entry (manual recomputes).
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendAuditTx(ctx, tx, e); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return tx.Commit()
}

// appendAuditTx seals the entry against the current chain head and
// inserts it, all inside the caller's transaction. The chain head read
// and the insert share the transaction, so concurrent appends cannot
// interleave and fork the chain.
func (s *Store) appendAuditTx(ctx context.Context, tx *sql.Tx, e *audit.Entry) error {
	prev := audit.GenesisHash
	err := tx.QueryRowContext(ctx,
		`SELECT hash FROM audit_entries ORDER BY seq DESC LIMIT 1`,
	).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read chain head: %w", err)
	}

	if err := audit.Seal(e, prev); err != nil {
		return err
	}

	before, err := marshalValue(e.Before)
	if err != nil {
		return fmt.Errorf("audit before value: %w", err)
	}
	after, err := marshalValue(e.After)
	if err != nil {
		return fmt.Errorf("audit after value: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_entries
		 (id, at, actor_id, actor_name, actor_role, action, sheet_id, row_id, col_id, aggregate,
		  before_value, after_value, pass_token, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Time.UTC().Format(time.RFC3339Nano),
		e.Actor.ID,
		e.Actor.Name,
		string(e.Actor.Role),
		string(e.Action),
		string(e.Sheet),
		int64(e.Row),
		string(e.Col),
		e.Aggregate,
		before,
		after,
		e.PassToken,
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("audit entry seq: %w", err)
	}
	e.Seq = seq
	return nil
}
