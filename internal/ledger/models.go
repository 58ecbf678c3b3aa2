package ledger

import (
	"errors"
	"time"
)

// Status is the outcome stored on a backup record.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

func (s Status) valid() bool {
	return s == StatusUploaded || s == StatusFailed
}

// Record is one backup_records row.
type Record struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
	// SourcePath is the path as seen on disk. Path is its NFC ledger key and
	// may differ in byte form.
	SourcePath  string    `json:"source_path,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Size        int64     `json:"size"`
	AccountID   int       `json:"account_id"`
	Folder      string    `json:"folder,omitempty"`
	RemoteID    string    `json:"remote_id,omitempty"`
	Status      Status    `json:"status"`
	LastAttempt time.Time `json:"last_attempt"`
	RetryCount  int       `json:"retry_count"`
	Error       string    `json:"error,omitempty"`
	Superseded  bool      `json:"superseded"`
	CreatedAt   time.Time `json:"created_at"`
}

// RetryEntry is one retry_queue row.
type RetryEntry struct {
	Path        string    `json:"path"`
	SourcePath  string    `json:"source_path,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
	Exhausted   bool      `json:"exhausted"`
}

// Source returns the on-disk path of the record.
func (r Record) Source() string {
	if r.SourcePath != "" {
		return r.SourcePath
	}
	return r.Path
}

// Source returns the on-disk path to retry.
func (e RetryEntry) Source() string {
	if e.SourcePath != "" {
		return e.SourcePath
	}
	return e.Path
}

// Failure describes one failed backupFile invocation. Path is the on-disk
// path; the ledger derives its key.
type Failure struct {
	Path        string
	Fingerprint string
	Size        int64
	AccountID   int
	Folder      string
	Error       string
	ErrorKind   string
	At          time.Time
}

// RunStatus is the lifecycle state of a run session.
type RunStatus string

const (
	RunCreated               RunStatus = "CREATED"
	RunRunning               RunStatus = "RUNNING"
	RunCompleted             RunStatus = "COMPLETED"
	RunNoFiles               RunStatus = "NO_FILES"
	RunNetworkError          RunStatus = "NETWORK_ERROR"
	RunAlreadyCompletedToday RunStatus = "ALREADY_COMPLETED_TODAY"
	// RunCancelled closes a session interrupted by shutdown. It never
	// satisfies the daily gate.
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status closes a session.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunNoFiles, RunNetworkError, RunAlreadyCompletedToday, RunCancelled:
		return true
	default:
		return false
	}
}

// ClosesDay reports whether the status satisfies the daily gate.
func (s RunStatus) ClosesDay() bool {
	return s == RunCompleted || s == RunNoFiles
}

// Trigger names what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerDrain     Trigger = "drain"
)

// Counts are the aggregate counters of a run.
type Counts struct {
	Total         int   `json:"total"`
	Success       int   `json:"success"`
	Failed        int   `json:"failed"`
	Uploaded      int   `json:"uploaded"`
	Deleted       int   `json:"deleted"`
	BytesUploaded int64 `json:"bytes_uploaded"`
	NetworkIssues int   `json:"network_issues"`
}

// RunSession is one run_sessions row.
type RunSession struct {
	ID        string     `json:"id"`
	Trigger   Trigger    `json:"trigger"`
	RunDate   string     `json:"run_date"`
	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Counts
	Message string `json:"message,omitempty"`
}

// Closed reports whether the session has reached a terminal state.
func (r RunSession) Closed() bool {
	return r.EndedAt != nil
}

// Stats summarizes ledger contents for status displays.
type Stats struct {
	Records       int   `json:"records"`
	Uploaded      int   `json:"uploaded"`
	Failed        int   `json:"failed"`
	Pending       int   `json:"pending"`
	Exhausted     int   `json:"exhausted"`
	BytesBackedUp int64 `json:"bytes_backed_up"`
}

var (
	// ErrSessionClosed is returned when a closed session is modified.
	ErrSessionClosed = errors.New("run session already closed")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)
