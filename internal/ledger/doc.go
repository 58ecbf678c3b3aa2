// Package ledger persists backup state in SQLite.
//
// The ledger owns three tables: backup_records (one authoritative row per
// source path plus superseded rows kept for audit), retry_queue (failed files
// awaiting a later drain) and run_sessions (one row per backup pass). Writes
// retry on SQLITE_BUSY with a short exponential backoff. Source paths are
// normalized to NFC before they are used as keys so the same file reached
// through differently composed names maps to one record.
//
// Stored rows that violate the record invariants are reported as
// services.ErrLedgerCorruption for that path only.
package ledger
