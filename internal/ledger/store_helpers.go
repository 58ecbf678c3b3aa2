package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nightshift/internal/services"
)

const recordColumns = "id, path, source_path, fingerprint, size, account_id, folder, remote_id, status, last_attempt, retry_count, error_message, superseded, created_at"

const retryColumns = "path, source_path, fingerprint, error_message, error_kind, attempts, last_attempt, exhausted"

const sessionColumns = "id, run_trigger, run_date, status, started_at, ended_at, total, success, failed, uploaded, deleted, bytes_uploaded, network_issues, message"

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		sourcePath   sql.NullString
		accountID    sql.NullInt64
		folder       sql.NullString
		remoteID     sql.NullString
		status       string
		lastAttempt  string
		errorMessage sql.NullString
		superseded   int
		createdAt    string
	)
	if err := row.Scan(&rec.ID, &rec.Path, &sourcePath, &rec.Fingerprint, &rec.Size, &accountID, &folder, &remoteID,
		&status, &lastAttempt, &rec.RetryCount, &errorMessage, &superseded, &createdAt); err != nil {
		return nil, err
	}
	rec.SourcePath = sourcePath.String
	rec.AccountID = int(accountID.Int64)
	rec.Folder = folder.String
	rec.RemoteID = remoteID.String
	rec.Status = Status(status)
	rec.Error = errorMessage.String
	rec.Superseded = superseded != 0

	var err error
	if rec.LastAttempt, err = parseTimeString(lastAttempt); err != nil {
		return &rec, corruption(rec.Path, fmt.Sprintf("unparseable last_attempt %q", lastAttempt))
	}
	if rec.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return &rec, corruption(rec.Path, fmt.Sprintf("unparseable created_at %q", createdAt))
	}
	if err := rec.check(); err != nil {
		return &rec, err
	}
	return &rec, nil
}

func (r Record) check() error {
	switch {
	case !r.Status.valid():
		return corruption(r.Path, fmt.Sprintf("unknown status %q", r.Status))
	case r.RetryCount < 0:
		return corruption(r.Path, fmt.Sprintf("negative retry count %d", r.RetryCount))
	case r.Fingerprint == "":
		return corruption(r.Path, "empty fingerprint")
	case r.Size < 0:
		return corruption(r.Path, fmt.Sprintf("negative size %d", r.Size))
	}
	return nil
}

func corruption(path, detail string) error {
	return services.Wrap(services.ErrLedgerCorruption, "ledger", path, detail, nil)
}

func scanRetry(row rowScanner) (*RetryEntry, error) {
	var (
		entry       RetryEntry
		sourcePath  sql.NullString
		fingerprint sql.NullString
		message     sql.NullString
		kind        sql.NullString
		lastAttempt string
		exhausted   int
	)
	if err := row.Scan(&entry.Path, &sourcePath, &fingerprint, &message, &kind, &entry.Attempts, &lastAttempt, &exhausted); err != nil {
		return nil, err
	}
	entry.SourcePath = sourcePath.String
	entry.Fingerprint = fingerprint.String
	entry.Error = message.String
	entry.ErrorKind = kind.String
	entry.Exhausted = exhausted != 0
	if t, err := parseTimeString(lastAttempt); err == nil {
		entry.LastAttempt = t
	}
	return &entry, nil
}

func scanSession(row rowScanner) (*RunSession, error) {
	var (
		session   RunSession
		trigger   string
		status    string
		startedAt string
		endedAt   sql.NullString
		message   sql.NullString
	)
	if err := row.Scan(&session.ID, &trigger, &session.RunDate, &status, &startedAt, &endedAt,
		&session.Total, &session.Success, &session.Failed, &session.Uploaded, &session.Deleted,
		&session.BytesUploaded, &session.NetworkIssues, &message); err != nil {
		return nil, err
	}
	session.Trigger = Trigger(trigger)
	session.Status = RunStatus(status)
	session.Message = message.String
	if t, err := parseTimeString(startedAt); err == nil {
		session.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := parseTimeString(endedAt.String); err == nil {
			session.EndedAt = &t
		}
	}
	return &session, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
