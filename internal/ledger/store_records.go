package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"nightshift/internal/services"
)

// Get returns the authoritative record for path, or nil when none exists.
// A row that violates the record invariants yields ErrLedgerCorruption.
func (s *Store) Get(ctx context.Context, path string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM backup_records WHERE path = ? AND superseded = 0`, Key(path))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores rec as the authoritative record for its path. A record with the
// same fingerprint as the current one updates it in place; a different
// fingerprint supersedes the current row and inserts a new one.
func (s *Store) Put(ctx context.Context, rec Record) (*Record, error) {
	if !rec.Status.valid() {
		return nil, fmt.Errorf("put record: invalid status %q", rec.Status)
	}
	if strings.TrimSpace(rec.Fingerprint) == "" {
		return nil, errors.New("put record: fingerprint is required")
	}
	var stored Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		out, err := putTx(ctx, tx, rec)
		if err != nil {
			return err
		}
		stored = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func putTx(ctx context.Context, tx *sql.Tx, rec Record) (Record, error) {
	if rec.SourcePath == "" {
		rec.SourcePath = rec.Path
	}
	rec.Path = Key(rec.Path)
	if rec.LastAttempt.IsZero() {
		rec.LastAttempt = time.Now()
	}
	rec.Superseded = false

	var (
		currentID int64
		currentFP string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, fingerprint FROM backup_records WHERE path = ? AND superseded = 0`, rec.Path,
	).Scan(&currentID, &currentFP)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		currentID = 0
	case err != nil:
		return rec, fmt.Errorf("read current record: %w", err)
	}

	if currentID != 0 && currentFP == rec.Fingerprint {
		_, err := tx.ExecContext(ctx, `UPDATE backup_records
			SET source_path = ?, size = ?, account_id = ?, folder = ?, remote_id = ?, status = ?, last_attempt = ?,
			    retry_count = ?, error_message = ?
			WHERE id = ?`,
			rec.SourcePath, rec.Size, rec.AccountID, nullableString(rec.Folder), nullableString(rec.RemoteID), string(rec.Status),
			formatTime(rec.LastAttempt), rec.RetryCount, nullableString(rec.Error), currentID)
		if err != nil {
			return rec, fmt.Errorf("update record: %w", err)
		}
		rec.ID = currentID
		return rec, nil
	}

	if currentID != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE backup_records SET superseded = 1 WHERE id = ?`, currentID); err != nil {
			return rec, fmt.Errorf("supersede record: %w", err)
		}
	}
	rec.CreatedAt = rec.LastAttempt
	res, err := tx.ExecContext(ctx, `INSERT INTO backup_records
		(path, source_path, fingerprint, size, account_id, folder, remote_id, status, last_attempt, retry_count, error_message, superseded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.Path, rec.SourcePath, rec.Fingerprint, rec.Size, rec.AccountID, nullableString(rec.Folder), nullableString(rec.RemoteID),
		string(rec.Status), formatTime(rec.LastAttempt), rec.RetryCount, nullableString(rec.Error), formatTime(rec.CreatedAt))
	if err != nil {
		return rec, fmt.Errorf("insert record: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return rec, fmt.Errorf("record id: %w", err)
	}
	return rec, nil
}

// MarkUploaded stores a successful upload and drops any retry entry for the path.
func (s *Store) MarkUploaded(ctx context.Context, rec Record) (*Record, error) {
	rec.Status = StatusUploaded
	rec.RetryCount = 0
	rec.Error = ""
	if strings.TrimSpace(rec.Fingerprint) == "" {
		return nil, errors.New("mark uploaded: fingerprint is required")
	}
	var stored Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		out, err := putTx(ctx, tx, rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM retry_queue WHERE path = ?`, out.Path); err != nil {
			return fmt.Errorf("clear retry entry: %w", err)
		}
		stored = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// MarkFailed records one failed backup attempt cycle for f.Path. The
// authoritative record gains one retry count (or starts at one for new
// content) and the retry entry is created or refreshed. The entry is marked
// exhausted once its attempts reach maxRetries.
func (s *Store) MarkFailed(ctx context.Context, f Failure, maxRetries int) (*RetryEntry, error) {
	if strings.TrimSpace(f.Fingerprint) == "" {
		return nil, errors.New("mark failed: fingerprint is required")
	}
	if f.At.IsZero() {
		f.At = time.Now()
	}
	var entry RetryEntry
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		path := Key(f.Path)
		var (
			currentFP    string
			currentCount int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT fingerprint, retry_count FROM backup_records WHERE path = ? AND superseded = 0`, path,
		).Scan(&currentFP, &currentCount)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read current record: %w", err)
		}
		count := 1
		if err == nil && currentFP == f.Fingerprint {
			count = currentCount + 1
		}
		rec, err := putTx(ctx, tx, Record{
			Path:        f.Path,
			Fingerprint: f.Fingerprint,
			Size:        f.Size,
			AccountID:   f.AccountID,
			Folder:      f.Folder,
			Status:      StatusFailed,
			LastAttempt: f.At,
			RetryCount:  count,
			Error:       f.Error,
		})
		if err != nil {
			return err
		}
		entry = RetryEntry{
			Path:        rec.Path,
			SourcePath:  rec.SourcePath,
			Fingerprint: f.Fingerprint,
			Error:       f.Error,
			ErrorKind:   f.ErrorKind,
			Attempts:    count,
			LastAttempt: f.At,
			Exhausted:   maxRetries > 0 && count >= maxRetries,
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO retry_queue (`+retryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET source_path = excluded.source_path, fingerprint = excluded.fingerprint, error_message = excluded.error_message,
			    error_kind = excluded.error_kind, attempts = excluded.attempts, last_attempt = excluded.last_attempt,
			    exhausted = excluded.exhausted`,
			entry.Path, nullableString(entry.SourcePath), entry.Fingerprint, nullableString(entry.Error), nullableString(entry.ErrorKind),
			entry.Attempts, formatTime(entry.LastAttempt), boolToInt(entry.Exhausted))
		if err != nil {
			return fmt.Errorf("upsert retry entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListFailed returns authoritative failed records whose retry count reached maxRetries.
func (s *Store) ListFailed(ctx context.Context, maxRetries int) ([]*Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM backup_records
		WHERE superseded = 0 AND status = ? AND retry_count >= ? ORDER BY last_attempt DESC`,
		string(StatusFailed), maxRetries)
}

// ListRecords returns authoritative records, newest first. An empty status lists all.
func (s *Store) ListRecords(ctx context.Context, status Status, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = -1
	}
	if status == "" {
		return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM backup_records
			WHERE superseded = 0 ORDER BY last_attempt DESC, id DESC LIMIT ?`, limit)
	}
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM backup_records
		WHERE superseded = 0 AND status = ? ORDER BY last_attempt DESC, id DESC LIMIT ?`, string(status), limit)
}

// History returns every record stored for path, including superseded ones, oldest first.
func (s *Store) History(ctx context.Context, path string) ([]*Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM backup_records WHERE path = ? ORDER BY id`, Key(path))
}

// SearchQuery filters uploaded records. Pattern is matched as a substring of
// the ledger key; zero times leave that end of the range open.
type SearchQuery struct {
	Pattern string
	From    time.Time
	To      time.Time
	Limit   int
}

// Search returns authoritative uploaded records matching q, newest first.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]*Record, error) {
	like := "%" + likeEscaper.Replace(Key(strings.TrimSpace(q.Pattern))) + "%"
	candidates, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM backup_records
		WHERE superseded = 0 AND status = ? AND path LIKE ? ESCAPE '\'
		ORDER BY last_attempt DESC, id DESC`, string(StatusUploaded), like)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, rec := range candidates {
		// Stored timestamps vary in fractional digits, so the range is
		// applied on parsed values rather than in SQL.
		if !q.From.IsZero() && rec.LastAttempt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && rec.LastAttempt.After(q.To) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Versions returns every uploaded record for path, including superseded
// ones, newest first.
func (s *Store) Versions(ctx context.Context, path string) ([]*Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM backup_records
		WHERE path = ? AND status = ? AND remote_id IS NOT NULL ORDER BY id DESC`, Key(path), string(StatusUploaded))
}

// RecordByID returns the record with id, or nil when none exists.
func (s *Store) RecordByID(ctx context.Context, id int64) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM backup_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if errors.Is(err, services.ErrLedgerCorruption) {
			// One bad row must not hide the rest of the ledger.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats summarizes authoritative records and the retry queue.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	var stats Stats
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN status = 'uploaded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'uploaded' THEN size ELSE 0 END), 0)
		FROM backup_records WHERE superseded = 0`,
	).Scan(&stats.Records, &stats.Uploaded, &stats.Failed, &stats.BytesBackedUp)
	if err != nil {
		return stats, fmt.Errorf("record stats: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT
			COALESCE(SUM(CASE WHEN exhausted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN exhausted = 1 THEN 1 ELSE 0 END), 0)
		FROM retry_queue`,
	).Scan(&stats.Pending, &stats.Exhausted)
	if err != nil {
		return stats, fmt.Errorf("retry stats: %w", err)
	}
	return stats, nil
}
