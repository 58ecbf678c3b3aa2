// Package logging assembles structured slog loggers and formatting helpers
// used across nightshift.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so run and upload code can tag
// log lines with run ids, triggers, source paths and correlation ids. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
