package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/juju/clock"

	"nightshift/internal/config"
	"nightshift/internal/destinations"
	"nightshift/internal/fingerprint"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/organizer"
	"nightshift/internal/scanner"
	"nightshift/internal/services"
	"nightshift/internal/storage"
)

// Ledger is the persistence surface used while backing up a file.
type Ledger interface {
	RecordReader
	RetryEntry(ctx context.Context, path string) (*ledger.RetryEntry, error)
	MarkUploaded(ctx context.Context, rec ledger.Record) (*ledger.Record, error)
	MarkFailed(ctx context.Context, f ledger.Failure, maxRetries int) (*ledger.RetryEntry, error)
}

// NetworkProbe reports whether the network is reachable.
type NetworkProbe interface {
	IsConnected(ctx context.Context) bool
	Invalidate()
}

// Options is the per-file upload policy.
type Options struct {
	UploadAttempts int
	AttemptBackoff time.Duration
	MaxRetries     int
	AutoDelete     bool
	VerifyUploads  bool
}

// OptionsFromConfig reads the upload policy from the backup section.
func OptionsFromConfig(cfg config.Backup) Options {
	return Options{
		UploadAttempts: cfg.UploadAttempts,
		AttemptBackoff: cfg.AttemptBackoff(),
		MaxRetries:     cfg.MaxRetries,
		AutoDelete:     cfg.AutoDelete,
		VerifyUploads:  cfg.VerifyUploads,
	}
}

// Orchestrator backs up individual files. It is safe for concurrent use.
type Orchestrator struct {
	opts     Options
	ledger   Ledger
	detector *ChangeDetector
	pool     *destinations.Pool
	probe    NetworkProbe
	clock    clock.Clock
	logger   *slog.Logger
	locks    *pathLocks
}

// New builds an Orchestrator. The pool must be refreshed by the caller
// before each run.
func New(opts Options, store Ledger, pool *destinations.Pool, probe NetworkProbe, clk clock.Clock, logger *slog.Logger) *Orchestrator {
	if opts.UploadAttempts <= 0 {
		opts.UploadAttempts = 1
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Orchestrator{
		opts:     opts,
		ledger:   store,
		detector: NewChangeDetector(store),
		pool:     pool,
		probe:    probe,
		clock:    clk,
		logger:   logging.NewComponentLogger(logger, "orchestrator"),
		locks:    newPathLocks(),
	}
}

// Detector exposes the change detector used by BackupFile.
func (o *Orchestrator) Detector() *ChangeDetector {
	return o.detector
}

// BackupFile runs d through detection, selection, upload and the ledger
// update. runDate picks the destination folder.
func (o *Orchestrator) BackupFile(ctx context.Context, d *scanner.Descriptor, runDate time.Time) Outcome {
	out := Outcome{Path: d.Path, Category: d.Category, Bytes: d.Size}
	ctx = services.WithPath(ctx, d.Path)
	logger := logging.WithContext(ctx, o.logger)

	unlock := o.locks.lock(ledger.Key(d.Path))
	defer unlock()

	if err := ctx.Err(); err != nil {
		out.Cancelled = true
		out.Err = err
		return out
	}

	fp, err := d.Fingerprint()
	if err != nil {
		return o.skip(logger, out, err)
	}

	needs, err := o.detector.NeedsBackup(ctx, d)
	if err != nil {
		return o.skip(logger, out, err)
	}
	if !needs {
		logger.Debug("already backed up")
		out.Success = true
		out.Unchanged = true
		return out
	}

	entry, err := o.ledger.RetryEntry(ctx, d.Path)
	if err != nil {
		return o.skip(logger, out, err)
	}
	if entry != nil && entry.Exhausted && entry.Fingerprint == fp {
		logger.Debug("retry ceiling reached; waiting for reset", logging.Int("attempts", entry.Attempts))
		out.Kind = services.KindRetryExhausted
		out.Exhausted = true
		out.Err = services.Wrap(services.ErrRetryExhausted, "orchestrator", "backup", entry.Error, nil)
		return out
	}

	out.Destination = organizer.DestinationPath(d.Category, runDate)
	reservation, err := o.pool.Select(d.Size)
	if err != nil {
		out.Err = err
		return o.fail(ctx, logger, out, fp)
	}
	account := reservation.Account()
	out.AccountID = account.ID

	result, verified, err := o.upload(ctx, logger, d, fp, reservation.Client(), &out)
	if err != nil {
		reservation.Release()
		out.Err = err
		if out.NetworkDown || out.Cancelled {
			out.Kind = services.KindOf(err)
			logger.Info("upload deferred",
				logging.Bool("network_down", out.NetworkDown),
				logging.Bool("cancelled", out.Cancelled),
				logging.Int("attempts", out.Attempts),
			)
			return out
		}
		return o.fail(ctx, logger, out, fp)
	}
	reservation.Commit(result.Size)
	out.RemoteID = result.RemoteID

	persistCtx := context.WithoutCancel(ctx)
	if _, err := o.ledger.MarkUploaded(persistCtx, ledger.Record{
		Path:        d.Path,
		Fingerprint: fp,
		Size:        d.Size,
		AccountID:   account.ID,
		Folder:      out.Destination,
		RemoteID:    result.RemoteID,
		LastAttempt: o.clock.Now(),
	}); err != nil {
		logging.ErrorWithContext(logger, "upload succeeded but ledger write failed", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the ledger database"),
			logging.String(logging.FieldImpact, "file will be uploaded again on the next run"),
		)
		out.Err = err
		out.Kind = services.KindOf(err)
		return out
	}
	out.Success = true
	out.Uploaded = true

	logger.Info("file backed up",
		logging.String(logging.FieldEventType, "file_uploaded"),
		logging.Int(logging.FieldAccount, account.ID),
		logging.String("destination", out.Destination),
		logging.Bytes("size", result.Size),
		logging.Int("attempts", out.Attempts),
	)

	if o.opts.AutoDelete && verified {
		out.Deleted = o.deleteSource(logger, d.Path, fp)
	}
	return out
}

// upload creates the folder and runs the attempt loop. Attempts are skipped
// once the context is cancelled, but an attempt already in flight finishes.
func (o *Orchestrator) upload(ctx context.Context, logger *slog.Logger, d *scanner.Descriptor, fp string, client storage.Client, out *Outcome) (storage.UploadResult, bool, error) {
	transferCtx := context.WithoutCancel(ctx)
	remoteName := organizer.RemoteName(d.Path)
	segments := organizer.Segments(out.Destination)

	var folderID string
	var lastErr error
	for attempt := 1; attempt <= o.opts.UploadAttempts; attempt++ {
		if attempt > 1 && o.opts.AttemptBackoff > 0 {
			select {
			case <-ctx.Done():
			case <-o.clock.After(o.opts.AttemptBackoff):
			}
		}
		if err := ctx.Err(); err != nil {
			out.Cancelled = true
			return storage.UploadResult{}, false, errors.Join(err, lastErr)
		}
		if o.probe != nil && !o.probe.IsConnected(ctx) {
			if err := ctx.Err(); err != nil {
				out.Cancelled = true
				return storage.UploadResult{}, false, errors.Join(err, lastErr)
			}
			out.NetworkDown = true
			return storage.UploadResult{}, false, services.Wrap(services.ErrTransientIO, "orchestrator", "upload", "network unreachable", lastErr)
		}

		out.Attempts = attempt
		result, verified, err := o.attempt(transferCtx, d, fp, client, segments, &folderID, remoteName)
		if err == nil {
			return result, verified, nil
		}
		lastErr = err
		kind := services.KindOf(err)
		logger.Warn("upload attempt failed",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", o.opts.UploadAttempts),
			logging.String("error_kind", string(kind)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "upload_attempt_failed"),
			logging.String(logging.FieldErrorHint, "check destination connectivity"),
			logging.String(logging.FieldImpact, "upload will be retried"),
		)
		if kind != services.KindTransientIO {
			break
		}
		if o.probe != nil {
			o.probe.Invalidate()
		}
	}
	return storage.UploadResult{}, false, lastErr
}

func (o *Orchestrator) attempt(ctx context.Context, d *scanner.Descriptor, fp string, client storage.Client, segments []string, folderID *string, remoteName string) (storage.UploadResult, bool, error) {
	if *folderID == "" {
		id, err := client.CreateOrGetFolder(ctx, segments)
		if err != nil {
			return storage.UploadResult{}, false, err
		}
		*folderID = id
	}
	result, err := client.UploadOrReplace(ctx, d.Path, *folderID, remoteName)
	if err != nil {
		return storage.UploadResult{}, false, err
	}
	if !o.opts.VerifyUploads {
		return result, false, nil
	}
	if err := storage.Verify(result, d.Size, fp); err != nil {
		return storage.UploadResult{}, false, err
	}
	return result, true, nil
}

// fail records a failed backup cycle for retryable and permanent errors
// alike; only the retry entry's exhausted flag differs.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, out Outcome, fp string) Outcome {
	out.Kind = services.KindOf(out.Err)
	entry, err := o.ledger.MarkFailed(context.WithoutCancel(ctx), ledger.Failure{
		Path:        out.Path,
		Fingerprint: fp,
		Size:        out.Bytes,
		AccountID:   out.AccountID,
		Folder:      out.Destination,
		Error:       out.errorText(),
		ErrorKind:   string(out.Kind),
		At:          o.clock.Now(),
	}, o.opts.MaxRetries)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to record backup failure", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the ledger database"),
			logging.String(logging.FieldImpact, "failure is not queued for retry"),
		)
		return out
	}
	out.Exhausted = entry.Exhausted
	logging.WarnWithContext(logger, "file backup failed", "file_failed",
		logging.String("error_kind", string(out.Kind)),
		logging.Int("retry_count", entry.Attempts),
		logging.Bool("exhausted", entry.Exhausted),
		logging.Error(out.Err),
	)
	return out
}

// skip reports files that cannot be fingerprinted or whose ledger row is
// unreadable. Nothing is written for them.
func (o *Orchestrator) skip(logger *slog.Logger, out Outcome, err error) Outcome {
	out.Err = err
	out.Kind = services.KindOf(err)
	logging.WarnWithContext(logger, "file skipped", "file_skipped",
		logging.String("error_kind", string(out.Kind)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "file is not backed up this run"),
	)
	return out
}

// deleteSource removes the local file after a verified upload, provided its
// content still matches what was uploaded.
func (o *Orchestrator) deleteSource(logger *slog.Logger, path, fp string) bool {
	current, err := fingerprint.File(path)
	if err != nil || current != fp {
		logger.Warn("source changed after upload; keeping it",
			logging.String(logging.FieldEventType, "auto_delete_skipped"),
			logging.String(logging.FieldImpact, "changed file is backed up on the next run"),
		)
		return false
	}
	if err := os.Remove(path); err != nil {
		logging.WarnWithContext(logger, "auto-delete failed", "auto_delete_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the source directory"),
			logging.String(logging.FieldImpact, "source file is kept"),
		)
		return false
	}
	logger.Info("source removed after verified upload", logging.String(logging.FieldEventType, "source_deleted"))
	return true
}
