// Package daemon coordinates the long-running nightshift process.
//
// It wires the ledger, the destination pool, the network probe and the
// scheduler into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon exposes the operator surface used by IPC
// and the loopback HTTP API: status, manual runs, run history, the retry
// queue and ledger records.
//
// Keep orchestration logic here: per-file backup behaviour lives in the
// orchestrator and scheduling in the scheduler, while the daemon focuses on
// startup, shutdown, and high level coordination.
package daemon
