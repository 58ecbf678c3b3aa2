package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"nightshift/internal/config"
	"nightshift/internal/destinations"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/notifications"
	"nightshift/internal/preflight"
	"nightshift/internal/restore"
	"nightshift/internal/scheduler"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another nightshift instance is already running")

// Components are the collaborators the daemon owns.
type Components struct {
	Store     *ledger.Store
	Pool      *destinations.Pool
	Probe     preflight.Prober
	Notifier  notifications.Service
	Scheduler *scheduler.Scheduler
}

// Daemon coordinates the scheduler and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *ledger.Store
	pool      *destinations.Pool
	probe     preflight.Prober
	notifier  notifications.Service
	scheduler *scheduler.Scheduler
	restorer  *restore.Restorer

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running  atomic.Bool
	cancel   context.CancelFunc
	shutdown chan struct{}
	once     sync.Once
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                    `json:"running"`
	PID          int                     `json:"pid"`
	LedgerPath   string                  `json:"ledger_path"`
	LockFilePath string                  `json:"lock_path"`
	Scheduler    scheduler.StatusSummary `json:"scheduler"`
	Checks       []preflight.Result      `json:"checks,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, c Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || c.Store == nil || c.Scheduler == nil {
		return nil, errors.New("daemon requires config, ledger store, and scheduler")
	}
	notifier := c.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	var members []destinations.Member
	if c.Pool != nil {
		members = c.Pool.Members()
	}
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     c.Store,
		pool:      c.Pool,
		probe:     c.Probe,
		notifier:  notifier,
		scheduler: c.Scheduler,
		restorer:  restore.New(c.Store, members, logger),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
		shutdown:  make(chan struct{}),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, logs preflight results and starts the
// scheduler and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.logPreflight(runCtx)

	if err := d.scheduler.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.scheduler.Stop()
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("nightshift daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) logPreflight(ctx context.Context) {
	for _, r := range preflight.Failed(d.checks(ctx)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the reported path or destination before the next run"),
			logging.String(logging.FieldImpact, "affected files or destinations are skipped until fixed"),
		)
	}
}

func (d *Daemon) checks(ctx context.Context) []preflight.Result {
	var members []destinations.Member
	if d.pool != nil {
		members = d.pool.Members()
	}
	return preflight.RunAll(ctx, d.cfg, members, d.probe)
}

// Stop stops the scheduler and the API, then releases the daemon lock. An
// active run finishes its in-flight uploads before Stop returns.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("nightshift daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// RequestShutdown asks the hosting process to exit. It is safe to call more
// than once.
func (d *Daemon) RequestShutdown() {
	d.once.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed once RequestShutdown has been called.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// Status returns the current daemon status. Preflight checks are included
// only when withChecks is set because they query every destination.
func (d *Daemon) Status(ctx context.Context, withChecks bool) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LedgerPath:   d.store.Path(),
		LockFilePath: d.lockPath,
		Scheduler:    d.scheduler.Status(ctx),
	}
	if withChecks {
		status.Checks = d.checks(ctx)
	}
	return status
}

// RunNow starts a pass in the background and returns its session id.
func (d *Daemon) RunNow(gated bool) (string, error) {
	trigger := ledger.TriggerManual
	if gated {
		trigger = ledger.TriggerScheduled
	}
	id, err := d.scheduler.StartRun(scheduler.RunRequest{Trigger: trigger, Gated: gated})
	if err != nil {
		return "", err
	}
	d.logger.Info("manual run requested", logging.String(logging.FieldRunID, id), logging.Bool("gated", gated))
	return id, nil
}

// Session returns one run session, or nil when unknown.
func (d *Daemon) Session(ctx context.Context, id string) (*ledger.RunSession, error) {
	return d.store.Session(ctx, id)
}

// History returns the most recent run sessions.
func (d *Daemon) History(ctx context.Context, limit int) ([]*ledger.RunSession, error) {
	return d.store.ListSessions(ctx, limit)
}

// Retries lists pending or exhausted retry entries.
func (d *Daemon) Retries(ctx context.Context, exhausted bool) ([]*ledger.RetryEntry, error) {
	if exhausted {
		return d.store.ListExhausted(ctx)
	}
	return d.store.ListPending(ctx)
}

// ResetRetry clears the retry state of path so the next run retries it.
func (d *Daemon) ResetRetry(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	if err := d.store.ResetRetry(ctx, path); err != nil {
		return err
	}
	d.logger.Info("retry state reset", logging.String(logging.FieldPath, path))
	return nil
}

// Files lists authoritative ledger records, newest first.
func (d *Daemon) Files(ctx context.Context, status ledger.Status, limit int) ([]*ledger.Record, error) {
	return d.store.ListRecords(ctx, status, limit)
}

// Search lists uploaded records matching q, newest first.
func (d *Daemon) Search(ctx context.Context, q ledger.SearchQuery) ([]*ledger.Record, error) {
	return d.restorer.Search(ctx, q)
}

// Versions lists the restorable versions of path, newest first.
func (d *Daemon) Versions(ctx context.Context, path string) ([]*ledger.Record, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("path is required")
	}
	return d.restorer.Versions(ctx, path)
}

// Restore downloads each requested file. Per-file failures are reported in
// the summary rather than as an error.
func (d *Daemon) Restore(ctx context.Context, reqs []restore.Request) (restore.Summary, error) {
	if len(reqs) == 0 {
		return restore.Summary{}, errors.New("at least one path is required")
	}
	summary := d.restorer.RestoreMany(ctx, reqs)
	d.logger.Info("restore finished",
		logging.Int("total", summary.Total),
		logging.Int("successful", summary.Successful),
		logging.Int("failed", summary.Failed),
	)
	return summary, nil
}

// Accounts queries every destination for its current capacity.
func (d *Daemon) Accounts(ctx context.Context) []destinations.Account {
	if d.pool == nil {
		return nil
	}
	return d.pool.Probe(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// APIAddr returns the address the HTTP API is bound to, or "" when disabled
// or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}
