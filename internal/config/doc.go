// Package config loads, normalizes, and validates nightshift configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, parses human-readable sizes such as "100MB",
// and honours environment fallbacks for secrets and the ntfy topic. Invalid
// filters, schedules, retry policies or destinations are reported as
// services.ErrConfiguration so the daemon can refuse to start instead of
// silently defaulting.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, lowercased extensions, and parsed byte sizes.
package config
