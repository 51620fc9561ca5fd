package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/sheet"
)

// ReadAudit returns audit entries in ascending seq order. limit <= 0
// means all entries.
func (s *Store) ReadAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `SELECT seq, id, at, actor_id, actor_name, actor_role, action, sheet_id,
	                 row_id, col_id, aggregate, before_value, after_value, pass_token,
	                 prev_hash, hash
	          FROM audit_entries ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var at, role, action, sheetID, colID string
		var rowID int64
		var before, after sql.NullString
		if err := rows.Scan(
			&e.Seq, &e.ID, &at, &e.Actor.ID, &e.Actor.Name, &role, &action, &sheetID,
			&rowID, &colID, &e.Aggregate, &before, &after, &e.PassToken,
			&e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Time, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("audit entry %s timestamp: %w", e.ID, err)
		}
		e.Actor.Role = audit.Role(role)
		e.Action = audit.Action(action)
		e.Sheet = sheet.SheetID(sheetID)
		e.Row = sheet.RowID(rowID)
		e.Col = sheet.ColumnID(colID)
		if e.Before, err = unmarshalValue(before); err != nil {
			return nil, fmt.Errorf("audit entry %s before: %w", e.ID, err)
		}
		if e.After, err = unmarshalValue(after); err != nil {
			return nil, fmt.Errorf("audit entry %s after: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyChain recomputes the whole audit hash chain from storage.
func (s *Store) VerifyChain(ctx context.Context) error {
	entries, err := s.ReadAudit(ctx, 0)
	if err != nil {
		return err
	}
	return audit.VerifyChain(entries)
}
