// Package main hosts the nightshift CLI.
//
// Commands talk to the daemon over its IPC socket. Read-only views (history,
// retries, files, accounts, status) fall back to the ledger and the configured
// destinations when no daemon is running, and `run --local` executes a pass
// in-process under the same single-instance lock the daemon holds.
package main
