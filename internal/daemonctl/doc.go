// Package daemonctl launches and stops the nightshift daemon from the CLI.
// It talks to a running daemon over IPC and falls back to the pid file when
// the daemon does not exit on request.
package daemonctl
