package ipc

import (
	"time"

	"nightshift/internal/daemon"
	"nightshift/internal/destinations"
	"nightshift/internal/ledger"
	"nightshift/internal/restore"
)

// Meta is embedded in every request.
type Meta struct {
	RequestID string `json:"request_id"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct {
	Meta
	// Checks runs preflight checks, which query every destination.
	Checks bool `json:"checks"`
}

// StatusResponse wraps the daemon status.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// RunNowRequest starts a backup pass.
type RunNowRequest struct {
	Meta
	Gated bool `json:"gated"`
}

// RunNowResponse carries the id of the started session.
type RunNowResponse struct {
	SessionID string `json:"session_id"`
}

// SessionRequest fetches one run session.
type SessionRequest struct {
	Meta
	ID string `json:"id"`
}

// SessionResponse contains the session, nil when unknown.
type SessionResponse struct {
	Session *ledger.RunSession `json:"session"`
}

// StopRequest asks the daemon to shut down.
type StopRequest struct {
	Meta
}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// HistoryRequest lists recent run sessions.
type HistoryRequest struct {
	Meta
	Limit int `json:"limit"`
}

// HistoryResponse contains run sessions, newest first.
type HistoryResponse struct {
	Sessions []*ledger.RunSession `json:"sessions"`
}

// RetriesRequest lists pending or exhausted retry entries.
type RetriesRequest struct {
	Meta
	Exhausted bool `json:"exhausted"`
}

// RetriesResponse contains retry entries.
type RetriesResponse struct {
	Entries []*ledger.RetryEntry `json:"entries"`
}

// ResetRetryRequest clears the retry state of one path.
type ResetRetryRequest struct {
	Meta
	Path string `json:"path"`
}

// ResetRetryResponse reports whether anything was reset.
type ResetRetryResponse struct {
	Reset bool `json:"reset"`
}

// FilesRequest lists ledger records.
type FilesRequest struct {
	Meta
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

// FilesResponse contains ledger records, newest first.
type FilesResponse struct {
	Records []*ledger.Record `json:"records"`
}

// SearchRequest finds uploaded records by path substring and backup time.
type SearchRequest struct {
	Meta
	Pattern string    `json:"pattern"`
	Since   time.Time `json:"since"`
	Until   time.Time `json:"until"`
	Limit   int       `json:"limit"`
}

// SearchResponse contains matching records, newest first.
type SearchResponse struct {
	Records []*ledger.Record `json:"records"`
}

// VersionsRequest lists the restorable versions of one path.
type VersionsRequest struct {
	Meta
	Path string `json:"path"`
}

// VersionsResponse contains uploaded records for the path, newest first.
type VersionsResponse struct {
	Records []*ledger.Record `json:"records"`
}

// RestoreRequest restores one or more files.
type RestoreRequest struct {
	Meta
	Files []restore.Request `json:"files"`
}

// RestoreResponse summarizes the restore.
type RestoreResponse struct {
	Summary restore.Summary `json:"summary"`
}

// AccountsRequest queries destination capacity.
type AccountsRequest struct {
	Meta
}

// AccountsResponse contains one snapshot per destination.
type AccountsResponse struct {
	Accounts []destinations.Account `json:"accounts"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct {
	Meta
}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
