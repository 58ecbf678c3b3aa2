package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSession inserts a new session in the CREATED state.
func (s *Store) CreateSession(ctx context.Context, session RunSession) error {
	if session.ID == "" {
		return errors.New("create session: id is required")
	}
	if session.Status == "" {
		session.Status = RunCreated
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO run_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, string(session.Trigger), session.RunDate, string(session.Status), formatTime(session.StartedAt),
		nullableTime(session.EndedAt), session.Total, session.Success, session.Failed, session.Uploaded,
		session.Deleted, session.BytesUploaded, session.NetworkIssues, nullableString(session.Message))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SetSessionStatus moves an open session to a non-terminal status.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status RunStatus) error {
	if status.Terminal() {
		return fmt.Errorf("set session status: %s is terminal; use CloseSession", status)
	}
	res, err := s.execWithRetry(ctx, `UPDATE run_sessions SET status = ? WHERE id = ? AND ended_at IS NULL`, string(status), id)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set session status %s: %w", id, ErrSessionClosed)
	}
	return nil
}

// CloseSession writes the terminal status, counters and end time. A session
// can be closed only once.
func (s *Store) CloseSession(ctx context.Context, session RunSession) error {
	if !session.Status.Terminal() {
		return fmt.Errorf("close session: %s is not terminal", session.Status)
	}
	ended := time.Now()
	if session.EndedAt != nil {
		ended = *session.EndedAt
	}
	res, err := s.execWithRetry(ctx, `UPDATE run_sessions
		SET status = ?, ended_at = ?, total = ?, success = ?, failed = ?, uploaded = ?, deleted = ?,
		    bytes_uploaded = ?, network_issues = ?, message = ?
		WHERE id = ? AND ended_at IS NULL`,
		string(session.Status), formatTime(ended), session.Total, session.Success, session.Failed,
		session.Uploaded, session.Deleted, session.BytesUploaded, session.NetworkIssues,
		nullableString(session.Message), session.ID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close session %s: %w", session.ID, ErrSessionClosed)
	}
	return nil
}

// Session returns the session with id, or nil when none exists.
func (s *Store) Session(ctx context.Context, id string) (*RunSession, error) {
	return s.querySession(ctx, `SELECT `+sessionColumns+` FROM run_sessions WHERE id = ?`, id)
}

// LatestSession returns the most recently started session, or nil.
func (s *Store) LatestSession(ctx context.Context) (*RunSession, error) {
	return s.querySession(ctx, `SELECT `+sessionColumns+` FROM run_sessions ORDER BY started_at DESC, rowid DESC LIMIT 1`)
}

// DayCompleted reports whether a scheduled session for runDate closed as
// COMPLETED or NO_FILES. Manual and drain sessions never count.
func (s *Store) DayCompleted(ctx context.Context, runDate string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM run_sessions
		WHERE run_date = ? AND run_trigger = ? AND status IN (?, ?) AND ended_at IS NOT NULL`,
		runDate, string(TriggerScheduled), string(RunCompleted), string(RunNoFiles),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check daily gate: %w", err)
	}
	return count > 0, nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*RunSession, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM run_sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*RunSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// AbandonOpenSessions closes sessions left open by a previous process as
// CANCELLED. It returns the number of sessions closed.
func (s *Store) AbandonOpenSessions(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `UPDATE run_sessions SET status = ?, ended_at = ?, message = ?
		WHERE ended_at IS NULL`,
		string(RunCancelled), formatTime(at), "process exited before the run finished")
	if err != nil {
		return 0, fmt.Errorf("abandon open sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) querySession(ctx context.Context, query string, args ...any) (*RunSession, error) {
	ctx = ensureContext(ctx)
	session, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return session, nil
}
