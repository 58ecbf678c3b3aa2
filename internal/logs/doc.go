// Package logs tails the daemon log file for `nightshift logs`.
//
// Last reads the trailing lines with bounded memory; Follow polls for
// appended lines until its context ends and survives the log pointer being
// moved to a new file when the daemon restarts.
package logs
