package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ListPending returns retry entries that are still eligible for automatic
// retry, oldest attempt first.
func (s *Store) ListPending(ctx context.Context) ([]*RetryEntry, error) {
	return s.queryRetries(ctx, `SELECT `+retryColumns+` FROM retry_queue WHERE exhausted = 0 ORDER BY last_attempt, path`)
}

// ListExhausted returns retry entries that hit the retry ceiling and need
// manual attention.
func (s *Store) ListExhausted(ctx context.Context) ([]*RetryEntry, error) {
	return s.queryRetries(ctx, `SELECT `+retryColumns+` FROM retry_queue WHERE exhausted = 1 ORDER BY last_attempt DESC, path`)
}

// RetryEntry returns the retry entry for path, or nil when none exists.
func (s *Store) RetryEntry(ctx context.Context, path string) (*RetryEntry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+retryColumns+` FROM retry_queue WHERE path = ?`, Key(path))
	entry, err := scanRetry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read retry entry: %w", err)
	}
	return entry, nil
}

// RemoveRetry drops the retry entry for path. It reports whether a row was removed.
func (s *Store) RemoveRetry(ctx context.Context, path string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM retry_queue WHERE path = ?`, Key(path))
	if err != nil {
		return false, fmt.Errorf("remove retry entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResetRetry clears the retry state of path so the next run starts over:
// the retry entry is removed and a non-uploaded authoritative record is
// superseded. Returns ErrNotFound when there was nothing to reset.
func (s *Store) ResetRetry(ctx context.Context, path string) error {
	key := Key(path)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM retry_queue WHERE path = ?`, key)
		if err != nil {
			return fmt.Errorf("remove retry entry: %w", err)
		}
		removed, _ := res.RowsAffected()
		res, err = tx.ExecContext(ctx,
			`UPDATE backup_records SET superseded = 1 WHERE path = ? AND superseded = 0 AND status != ?`,
			key, string(StatusUploaded))
		if err != nil {
			return fmt.Errorf("supersede failed record: %w", err)
		}
		superseded, _ := res.RowsAffected()
		if removed == 0 && superseded == 0 {
			return fmt.Errorf("reset %s: %w", path, ErrNotFound)
		}
		return nil
	})
}

func (s *Store) queryRetries(ctx context.Context, query string, args ...any) ([]*RetryEntry, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query retry queue: %w", err)
	}
	defer rows.Close()
	var out []*RetryEntry
	for rows.Next() {
		entry, err := scanRetry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
