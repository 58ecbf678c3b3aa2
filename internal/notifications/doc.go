// Package notifications pushes run summaries and failures to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. The
// run_summary, errors and retry_exhausted toggles gate the matching methods.
package notifications
