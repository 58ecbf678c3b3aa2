package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"nightshift/internal/config"
	"nightshift/internal/destinations"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/notifications"
	"nightshift/internal/orchestrator"
	"nightshift/internal/organizer"
	"nightshift/internal/scanner"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a backup run is already in progress")

// ErrNotRunning is returned when a background run is requested from a
// scheduler that is not started or already stopped.
var ErrNotRunning = errors.New("scheduler is not running")

// Dependencies are the collaborators a Scheduler drives.
type Dependencies struct {
	Store    *ledger.Store
	Pool     *destinations.Pool
	Probe    orchestrator.NetworkProbe
	Notifier notifications.Service
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Scheduler triggers daily passes under the once-per-day gate and drains the
// retry queue on its own cadence.
type Scheduler struct {
	cfg      *config.Config
	store    *ledger.Store
	pool     *destinations.Pool
	probe    orchestrator.NetworkProbe
	notifier notifications.Service
	clock    clock.Clock
	logger   *slog.Logger
	orch     *orchestrator.Orchestrator
	scan     *scanner.Scanner

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	loopCtx  context.Context
	wg       sync.WaitGroup
	busy     bool
	current  *ledger.RunSession
	lastErr  error
	lastTick time.Time

	nextDrain      time.Time
	networkRetryAt time.Time
}

// New builds a Scheduler and the orchestrator it runs files through.
func New(cfg *config.Config, deps Dependencies) *Scheduler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	logger := logging.NewComponentLogger(deps.Logger, "scheduler")
	return &Scheduler{
		cfg:      cfg,
		store:    deps.Store,
		pool:     deps.Pool,
		probe:    deps.Probe,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		orch: orchestrator.New(orchestrator.OptionsFromConfig(cfg.Backup), deps.Store, deps.Pool, deps.Probe, clk,
			deps.Logger),
		scan: scanner.New(cfg.Backup.SourceRoots, scanner.FilterFromConfig(cfg.Backup), deps.Logger),
	}
}

// Orchestrator returns the per-file orchestrator used by runs.
func (s *Scheduler) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// Start closes sessions left open by a previous process and begins the poll
// loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopCtx = loopCtx
	s.running = true
	s.nextDrain = s.clock.Now().Add(s.cfg.Schedule.RetryDrainInterval())
	s.wg.Add(1)
	s.mu.Unlock()

	if n, err := s.store.AbandonOpenSessions(ctx, s.clock.Now()); err != nil {
		s.logger.Warn("failed to close abandoned sessions",
			logging.Error(err),
			logging.String(logging.FieldEventType, "session_recovery_failed"),
			logging.String(logging.FieldErrorHint, "check ledger database access"),
		)
	} else if n > 0 {
		s.logger.Info("closed sessions left open by a previous process", logging.Int64("sessions", n))
	}

	go s.loop(loopCtx)
	return nil
}

// Stop cancels the loop and any active run, then waits. In-flight uploads
// finish; unprocessed files stay pending for the next run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	poll := s.cfg.Schedule.PollInterval()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(poll):
		}
	}
}

// Tick evaluates the daily trigger and the retry-drain cadence once. A daily
// pass takes priority; the drain waits for the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.lastTick = now
	busy := s.busy
	s.mu.Unlock()
	if busy {
		return
	}

	due, err := s.dailyDue(ctx, now)
	if err != nil {
		s.setLastError(err)
		s.logger.Error("failed to evaluate daily gate",
			logging.Error(err),
			logging.String(logging.FieldEventType, "gate_check_failed"),
			logging.String(logging.FieldErrorHint, "check ledger database access"),
		)
		return
	}
	if due {
		if _, err := s.Run(ctx, RunRequest{Trigger: ledger.TriggerScheduled, Gated: true}); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.setLastError(err)
		}
		return
	}

	s.mu.Lock()
	drainDue := !now.Before(s.nextDrain)
	if drainDue {
		s.nextDrain = now.Add(s.cfg.Schedule.RetryDrainInterval())
	}
	s.mu.Unlock()
	if drainDue {
		if _, err := s.Drain(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.setLastError(err)
		}
	}
}

// dailyDue reports whether the scheduled pass should start: the trigger time
// has passed, today has no COMPLETED or NO_FILES scheduled session, and no
// network back-off is pending.
func (s *Scheduler) dailyDue(ctx context.Context, now time.Time) (bool, error) {
	hour, minute := s.cfg.Schedule.TriggerClock()
	trigger := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.Before(trigger) {
		return false, nil
	}
	s.mu.RLock()
	retryAt := s.networkRetryAt
	s.mu.RUnlock()
	if now.Before(retryAt) {
		return false, nil
	}
	done, err := s.store.DayCompleted(ctx, organizer.RunDate(now))
	if err != nil {
		return false, err
	}
	return !done, nil
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
