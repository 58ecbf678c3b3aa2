// Package restore copies backed-up files from their destinations back onto
// local disk.
//
// A restore resolves a ledger record (the newest uploaded version by
// default), downloads its object into a temporary sibling of the target,
// checks the content fingerprint against the record and only then renames
// the file into place. A destination object that was replaced by a later
// upload of the same day no longer matches older records, so those versions
// fail verification instead of restoring the wrong bytes.
package restore
