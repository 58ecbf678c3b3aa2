package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nightshift/internal/destinations"
	"nightshift/internal/fingerprint"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/services"
	"nightshift/internal/storage"
)

// ErrTargetExists is returned when the restore target is already present and
// overwriting was not requested.
var ErrTargetExists = errors.New("restore target already exists")

// Request selects one backed-up file.
type Request struct {
	// Path is the source path as it was backed up.
	Path string `json:"path"`
	// To restores into this directory under the file's base name instead of
	// the original location.
	To string `json:"to,omitempty"`
	// Version is a record id from Versions; zero picks the newest upload.
	Version   int64 `json:"version,omitempty"`
	Overwrite bool  `json:"overwrite,omitempty"`
}

// Result describes one restore attempt.
type Result struct {
	Path        string    `json:"path"`
	Target      string    `json:"target,omitempty"`
	Version     int64     `json:"version,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Bytes       int64     `json:"bytes"`
	BackedUpAt  time.Time `json:"backed_up_at"`
	Error       string    `json:"error,omitempty"`
}

// Summary totals a batch restore.
type Summary struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Restorer downloads ledger records from the configured destinations.
type Restorer struct {
	store   *ledger.Store
	clients map[int]storage.Client
	logger  *slog.Logger
}

// New builds a Restorer over the ledger and destination members.
func New(store *ledger.Store, members []destinations.Member, logger *slog.Logger) *Restorer {
	clients := make(map[int]storage.Client, len(members))
	for _, m := range members {
		clients[m.ID] = m.Client
	}
	return &Restorer{store: store, clients: clients, logger: logging.NewComponentLogger(logger, "restore")}
}

// Search lists uploaded records matching q.
func (r *Restorer) Search(ctx context.Context, q ledger.SearchQuery) ([]*ledger.Record, error) {
	return r.store.Search(ctx, q)
}

// Versions lists the restorable versions of path, newest first.
func (r *Restorer) Versions(ctx context.Context, path string) ([]*ledger.Record, error) {
	return r.store.Versions(ctx, path)
}

// Restore downloads one file. The returned Result is filled as far as the
// restore got, so callers can report the target even on failure.
func (r *Restorer) Restore(ctx context.Context, req Request) (Result, error) {
	result := Result{Path: req.Path}
	rec, err := r.resolve(ctx, req)
	if err != nil {
		return result, err
	}
	result.Path = rec.Source()
	result.Version = rec.ID
	result.Fingerprint = rec.Fingerprint
	result.BackedUpAt = rec.LastAttempt
	result.Target = target(rec, req.To)

	logger := r.logger.With(
		logging.String(logging.FieldPath, result.Path),
		logging.Int(logging.FieldAccount, rec.AccountID),
	)
	if !req.Overwrite {
		if _, err := os.Lstat(result.Target); err == nil {
			return result, fmt.Errorf("%w: %s", ErrTargetExists, result.Target)
		}
	}
	client, ok := r.clients[rec.AccountID]
	if !ok || client == nil {
		return result, services.Wrap(services.ErrConfiguration, "restore", "client",
			fmt.Sprintf("destination %d is not configured", rec.AccountID), nil)
	}

	n, err := r.fetch(ctx, client, rec, result.Target)
	if err != nil {
		logger.Warn("restore failed", logging.Error(err))
		return result, err
	}
	result.Bytes = n
	logger.Info("file restored",
		logging.String("target", result.Target),
		logging.Int64("version", rec.ID),
		logging.Bytes("bytes", n),
	)
	return result, nil
}

// RestoreMany restores each request in order. One failure does not stop the
// rest.
func (r *Restorer) RestoreMany(ctx context.Context, reqs []Request) Summary {
	summary := Summary{Total: len(reqs), Results: make([]Result, 0, len(reqs))}
	for _, req := range reqs {
		if ctx.Err() != nil {
			summary.Failed++
			summary.Results = append(summary.Results, Result{Path: req.Path, Error: ctx.Err().Error()})
			continue
		}
		result, err := r.Restore(ctx, req)
		if err != nil {
			result.Error = err.Error()
			summary.Failed++
		} else {
			summary.Successful++
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}

func (r *Restorer) resolve(ctx context.Context, req Request) (*ledger.Record, error) {
	path := strings.TrimSpace(req.Path)
	if req.Version != 0 {
		rec, err := r.store.RecordByID(ctx, req.Version)
		if err != nil {
			return nil, err
		}
		if rec == nil || (path != "" && rec.Path != ledger.Key(path)) {
			return nil, services.Wrap(services.ErrInvalidSource, "restore", "resolve",
				fmt.Sprintf("no version %d for %s", req.Version, path), nil)
		}
		if rec.Status != ledger.StatusUploaded || rec.RemoteID == "" {
			return nil, services.Wrap(services.ErrInvalidSource, "restore", "resolve",
				fmt.Sprintf("version %d was never uploaded", req.Version), nil)
		}
		return rec, nil
	}
	if path == "" {
		return nil, services.Wrap(services.ErrInvalidSource, "restore", "resolve", "path is required", nil)
	}
	versions, err := r.store.Versions(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, services.Wrap(services.ErrInvalidSource, "restore", "resolve",
			fmt.Sprintf("%s has no uploaded backup", path), nil)
	}
	return versions[0], nil
}

func target(rec *ledger.Record, dir string) string {
	if strings.TrimSpace(dir) == "" {
		return rec.Source()
	}
	return filepath.Join(dir, filepath.Base(rec.Source()))
}

// fetch downloads into a temporary sibling of dest and renames it into place
// once the content matches the record.
func (r *Restorer) fetch(ctx context.Context, client storage.Client, rec *ledger.Record, dest string) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, services.Wrap(services.ErrInvalidSource, "restore", "mkdir", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".restore-*")
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidSource, "restore", "temp file", dir, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := client.Download(ctx, rec.RemoteID, tmpPath)
	if err != nil {
		return 0, err
	}
	sum, err := fingerprint.File(tmpPath)
	if err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "restore", "fingerprint", tmpPath, err)
	}
	if sum != rec.Fingerprint {
		return 0, services.Wrap(services.ErrInvalidSource, "restore", "verify",
			fmt.Sprintf("stored object %s no longer holds version %d", rec.RemoteID, rec.ID), nil)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, services.Wrap(services.ErrTransientIO, "restore", "rename", dest, err)
	}
	committed = true
	return n, nil
}
