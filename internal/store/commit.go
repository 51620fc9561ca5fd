package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cascadehq/cascade/internal/engine"
)

// CommitPass implements engine.Committer: one transaction covering the
// pass record and every recomputed cell and aggregate value. Error
// values are stored like any other value (the tagged error object).
func (s *Store) CommitPass(ctx context.Context, commit engine.PassCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit pass %s: %w", commit.Token, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO passes (token, sheet_id, seq, kind, committed_at) VALUES (?, ?, ?, ?, ?)`,
		commit.Token,
		string(commit.Sheet),
		commit.Seq,
		commit.Trigger.String(),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("commit pass %s: insert pass: %w", commit.Token, err)
	}

	for _, cu := range commit.Cells {
		stored, err := marshalValue(cu.Val)
		if err != nil {
			return fmt.Errorf("commit pass %s: cell %s: %w", commit.Token, cu.Ref, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cells (sheet_id, row_id, col_id, computed, stale) VALUES (?, ?, ?, ?, 0)
			 ON CONFLICT(sheet_id, row_id, col_id)
			 DO UPDATE SET computed = excluded.computed, stale = 0`,
			string(cu.Ref.Sheet), int64(cu.Ref.Row), string(cu.Ref.Col), stored,
		); err != nil {
			return fmt.Errorf("commit pass %s: cell %s: %w", commit.Token, cu.Ref, err)
		}
	}

	for _, au := range commit.Aggs {
		stored, err := marshalValue(au.Val)
		if err != nil {
			return fmt.Errorf("commit pass %s: aggregate %s: %w", commit.Token, au.Ref, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE aggregates SET value = ?, stale = 0 WHERE sheet_id = ? AND name = ?`,
			stored, string(au.Ref.Sheet), au.Ref.Name,
		); err != nil {
			return fmt.Errorf("commit pass %s: aggregate %s: %w", commit.Token, au.Ref, err)
		}
	}

	return tx.Commit()
}
