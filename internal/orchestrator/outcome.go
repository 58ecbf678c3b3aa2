package orchestrator

import (
	"nightshift/internal/scanner"
	"nightshift/internal/services"
)

// Outcome is the result of backing up one file.
type Outcome struct {
	Path     string
	Category scanner.Category
	Success  bool
	// Unchanged marks files already backed up with identical content.
	Unchanged   bool
	Uploaded    bool
	Deleted     bool
	AccountID   int
	Destination string
	RemoteID    string
	Bytes       int64
	Attempts    int
	Kind        services.ErrorKind
	Err         error

	// NetworkDown marks a file deferred because the probe failed; the
	// ledger is left untouched.
	NetworkDown bool
	// Exhausted is set when the retry entry reached the retry ceiling.
	Exhausted bool
	// Cancelled marks a file abandoned because the run was stopped.
	Cancelled bool
}

// Failed reports whether the file counts as a failure in run summaries.
// Deferred and cancelled files are neither successes nor failures.
func (o Outcome) Failed() bool {
	return !o.Success && !o.NetworkDown && !o.Cancelled
}

func (o Outcome) errorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
