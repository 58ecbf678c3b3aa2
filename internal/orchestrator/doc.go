// Package orchestrator drives one file at a time through change detection,
// destination selection, upload and the ledger update.
//
// BackupFile never returns an error. Every failure is folded into an Outcome
// carrying a services.ErrorKind, so a single bad file cannot abort a run.
// Retryable failures land in the ledger retry queue. Files deferred because
// the network went away or because the run was cancelled are left untouched
// and picked up by the next pass.
package orchestrator
