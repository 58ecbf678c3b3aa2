// Package daemonrun wires configuration into a running nightshift process:
// the long-lived daemon and the one-shot local pass share the same bootstrap.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"nightshift/internal/config"
	"nightshift/internal/daemon"
	"nightshift/internal/destinations"
	"nightshift/internal/ipc"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/logs"
	"nightshift/internal/netprobe"
	"nightshift/internal/notifications"
	"nightshift/internal/scheduler"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Runtime holds the components shared by the daemon and local runs.
type Runtime struct {
	Store     *ledger.Store
	Pool      *destinations.Pool
	Probe     *netprobe.Prober
	Notifier  notifications.Service
	Scheduler *scheduler.Scheduler
}

// Build opens the ledger and every destination and assembles the scheduler.
func Build(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	members, err := destinations.MembersFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	rt := &Runtime{
		Store:    store,
		Pool:     destinations.NewPool(members, logger),
		Probe:    netprobe.New(cfg.Network, nil, logger),
		Notifier: notifications.NewService(cfg),
	}
	rt.Scheduler = scheduler.New(cfg, scheduler.Dependencies{
		Store:    rt.Store,
		Pool:     rt.Pool,
		Probe:    rt.Probe,
		Notifier: rt.Notifier,
		Logger:   logger,
	})
	return rt, nil
}

// Close releases the ledger.
func (r *Runtime) Close() error {
	return r.Store.Close()
}

// Run starts the nightshift daemon and blocks until a signal arrives or a
// client asks it to stop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("nightshift-%s.log", stamp))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.CurrentLogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update nightshift.log link: %v\n", err)
	}
	logs.Prune(cfg.Paths.LogDir, cfg.Logging.Retention(), logPath, logger)
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logConfigSnapshot(logger, cfg)

	rt, err := Build(cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon bootstrap failed", "daemon_bootstrap_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check destinations and ledger database access"),
			logging.String(logging.FieldImpact, "no backups run until the daemon starts"),
		)
		return err
	}

	d, err := daemon.New(cfg, daemon.Components{
		Store:     rt.Store,
		Pool:      rt.Pool,
		Probe:     rt.Probe,
		Notifier:  rt.Notifier,
		Scheduler: rt.Scheduler,
	}, logger)
	if err != nil {
		_ = rt.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	select {
	case <-signalCtx.Done():
	case <-d.ShutdownRequested():
	}
	logger.Info("nightshift daemon shutting down")
	return nil
}

// RunOnce executes a single pass in-process under the daemon lock, so it
// refuses to run while a daemon is active.
func RunOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, req scheduler.RunRequest) (*ledger.RunSession, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w; use `nightshift run` without --local to run through the daemon", daemon.ErrAlreadyRunning)
	}
	defer lock.Unlock() //nolint:errcheck

	rt, err := Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	if _, err := rt.Store.AbandonOpenSessions(ctx, time.Now()); err != nil {
		logger.Warn("failed to close abandoned sessions", logging.Error(err))
	}
	return rt.Scheduler.Run(ctx, req)
}

func ensureCurrentLogPointer(current, target string) error {
	if target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	hour, minute := cfg.Schedule.TriggerClock()
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Int("source_roots", len(cfg.Backup.SourceRoots)),
		logging.Int("destinations", len(cfg.Destinations)),
		logging.String("backup_time", fmt.Sprintf("%02d:%02d", hour, minute)),
		logging.Bool("auto_delete", cfg.Backup.AutoDelete),
		logging.Bool("verify_uploads", cfg.Backup.VerifyUploads),
		logging.Int("max_concurrent_uploads", cfg.Backup.MaxConcurrentUploads),
		logging.Bool("notifications", cfg.Notifications.NtfyTopic != ""),
	)
}
