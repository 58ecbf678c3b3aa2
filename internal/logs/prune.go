package logs

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nightshift/internal/logging"
)

// FilePattern matches the per-process log files written by the daemon and
// by local runs.
const FilePattern = "nightshift-*.log"

// PruneResult contains the outcome of a retention pass.
type PruneResult struct {
	Removed []string
	Errors  []PruneError
}

// PruneError pairs a file path with its removal error.
type PruneError struct {
	Path  string
	Error error
}

// Prune removes log files in dir older than maxAge. The file keep, usually
// the log of the running process, is never removed. A zero maxAge disables
// pruning.
func Prune(dir string, maxAge time.Duration, keep string, logger *slog.Logger) PruneResult {
	result := PruneResult{}

	dir = strings.TrimSpace(dir)
	if dir == "" || maxAge <= 0 {
		return result
	}

	matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		result.Errors = append(result.Errors, PruneError{Path: dir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, path := range matches {
		if path == keep {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			}
			continue
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove old log file",
					logging.String(logging.FieldPath, path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "log_prune_failed"),
					logging.String(logging.FieldErrorHint, "check log_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, path)
	}

	if logger != nil && len(result.Removed) > 0 {
		logger.Info("pruned old log files",
			logging.Int("removed", len(result.Removed)),
			logging.Duration("retention", maxAge),
			logging.String(logging.FieldEventType, "log_prune"),
		)
	}
	return result
}
