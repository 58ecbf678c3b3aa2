package scheduler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/orchestrator"
	"nightshift/internal/organizer"
	"nightshift/internal/scanner"
	"nightshift/internal/services"
)

// RunRequest describes one pass.
type RunRequest struct {
	// ID is the session id; a new one is generated when empty.
	ID      string
	Trigger ledger.Trigger
	// Gated passes close as ALREADY_COMPLETED_TODAY when today's scheduled
	// pass already finished.
	Gated bool
	// Progress, when set, receives every outcome in completion order.
	Progress func(orchestrator.Outcome)
}

// Run executes one pass synchronously and returns the closed session.
func (s *Scheduler) Run(ctx context.Context, req RunRequest) (*ledger.RunSession, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()
	if req.Trigger == "" {
		req.Trigger = ledger.TriggerManual
	}
	return s.run(ctx, req, func(ctx context.Context) iter.Seq[*scanner.Descriptor] {
		return s.scan.Scan(ctx)
	})
}

// StartRun begins a pass in the background and returns its session id. The
// scheduler must be started; the pass is cancelled by Stop.
func (s *Scheduler) StartRun(req RunRequest) (string, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return "", ErrNotRunning
	}
	if s.busy {
		s.mu.Unlock()
		return "", ErrRunInProgress
	}
	s.busy = true
	ctx := s.loopCtx
	// Stop flips running under mu before waiting, so this Add never races
	// its Wait.
	s.wg.Add(1)
	s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Trigger == "" {
		req.Trigger = ledger.TriggerManual
	}
	go func() {
		defer s.wg.Done()
		defer s.release()
		if _, err := s.run(ctx, req, func(ctx context.Context) iter.Seq[*scanner.Descriptor] {
			return s.scan.Scan(ctx)
		}); err != nil {
			s.setLastError(err)
		}
	}()
	return req.ID, nil
}

// Drain retries pending retry-queue entries through the orchestrator. No
// session is recorded when the queue is empty or the network is down.
func (s *Scheduler) Drain(ctx context.Context) (*ledger.RunSession, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending retries: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	if s.probe != nil && !s.probe.IsConnected(ctx) {
		s.logger.Debug("retry drain skipped; network unreachable", logging.Int("pending", len(pending)))
		return nil, nil
	}
	s.logger.Info("draining retry queue", logging.Int("pending", len(pending)))
	return s.run(ctx, RunRequest{Trigger: ledger.TriggerDrain}, func(ctx context.Context) iter.Seq[*scanner.Descriptor] {
		return s.pendingDescriptors(ctx, pending)
	})
}

func (s *Scheduler) pendingDescriptors(ctx context.Context, pending []*ledger.RetryEntry) iter.Seq[*scanner.Descriptor] {
	return func(yield func(*scanner.Descriptor) bool) {
		for _, entry := range pending {
			if ctx.Err() != nil {
				return
			}
			d, err := scanner.NewDescriptor(entry.Source())
			if err != nil {
				// The source is gone; nothing left to retry.
				if _, rmErr := s.store.RemoveRetry(ctx, entry.Path); rmErr != nil {
					s.logger.Warn("failed to drop retry entry for missing source", logging.Error(rmErr))
				}
				s.logger.Info("retry entry dropped; source no longer readable",
					logging.String(logging.FieldPath, entry.Source()),
					logging.Error(err),
				)
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context, req RunRequest, source func(context.Context) iter.Seq[*scanner.Descriptor]) (*ledger.RunSession, error) {
	now := s.clock.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	session := ledger.RunSession{
		ID:        req.ID,
		Trigger:   req.Trigger,
		RunDate:   organizer.RunDate(now),
		Status:    ledger.RunCreated,
		StartedAt: now,
	}
	ctx = services.WithTrigger(services.WithRunID(ctx, session.ID), string(req.Trigger))
	logger := logging.WithContext(ctx, s.logger)

	if err := s.store.CreateSession(ctx, session); err != nil {
		s.notifyError(ctx, err, "starting a backup run")
		return nil, fmt.Errorf("create run session: %w", err)
	}
	s.setCurrent(&session)
	defer s.setCurrent(nil)

	if req.Gated {
		done, err := s.store.DayCompleted(ctx, session.RunDate)
		if err != nil {
			return s.close(ctx, logger, session, ledger.RunCancelled, "daily gate check failed: "+err.Error())
		}
		if done {
			return s.close(ctx, logger, session, ledger.RunAlreadyCompletedToday, "backup already completed today")
		}
	}

	if s.probe != nil && !s.probe.IsConnected(ctx) {
		if ctx.Err() != nil {
			return s.close(ctx, logger, session, ledger.RunCancelled, "stopped before the run started")
		}
		return s.deferForNetwork(ctx, logger, session, "network unreachable; backup deferred")
	}

	if err := s.store.SetSessionStatus(ctx, session.ID, ledger.RunRunning); err != nil {
		return nil, err
	}
	session.Status = ledger.RunRunning
	s.setCurrent(&session)

	if _, err := s.pool.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return s.close(ctx, logger, session, ledger.RunCancelled, "stopped before the run started")
		}
		return s.deferForNetwork(ctx, logger, session, "no destination answered the capacity query: "+err.Error())
	}

	logger.Info("backup run started", logging.String(logging.FieldEventType, "run_start"))
	runDate := now
	counts := s.fanOut(ctx, source(ctx), runDate, &session, req.Progress)
	session.Counts = counts

	switch {
	case ctx.Err() != nil:
		return s.close(ctx, logger, session, ledger.RunCancelled, "stopped before the run finished")
	case counts.NetworkIssues > 0:
		return s.deferForNetwork(ctx, logger, session, fmt.Sprintf("network lost; %d files deferred", counts.NetworkIssues))
	case counts.Total == 0:
		return s.close(ctx, logger, session, ledger.RunNoFiles, "no files needed backing up")
	default:
		return s.close(ctx, logger, session, ledger.RunCompleted, "")
	}
}

// fanOut runs every descriptor through the orchestrator on a bounded worker
// pool and aggregates the outcomes.
func (s *Scheduler) fanOut(ctx context.Context, descriptors iter.Seq[*scanner.Descriptor], runDate time.Time, session *ledger.RunSession, progress func(orchestrator.Outcome)) ledger.Counts {
	workers := s.cfg.Backup.MaxConcurrentUploads
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan *scanner.Descriptor)
	results := make(chan orchestrator.Outcome)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				results <- s.orch.BackupFile(ctx, d, runDate)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for d := range descriptors {
			select {
			case <-ctx.Done():
				return
			case jobs <- d:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var counts ledger.Counts
	for out := range results {
		tally(&counts, out)
		session.Counts = counts
		s.setCurrent(session)
		if out.Exhausted && out.Kind != services.KindRetryExhausted {
			if err := s.notifier.NotifyRetryExhausted(context.WithoutCancel(ctx), out.Path, out.Err); err != nil {
				s.logger.Debug("retry exhausted notification failed", logging.Error(err))
			}
		}
		if progress != nil {
			progress(out)
		}
	}
	return counts
}

func tally(c *ledger.Counts, out orchestrator.Outcome) {
	if out.Unchanged || out.Cancelled {
		return
	}
	c.Total++
	switch {
	case out.NetworkDown:
		c.NetworkIssues++
	case out.Success:
		c.Success++
	default:
		c.Failed++
	}
	if out.Uploaded {
		c.Uploaded++
		c.BytesUploaded += out.Bytes
	}
	if out.Deleted {
		c.Deleted++
	}
}

func (s *Scheduler) deferForNetwork(ctx context.Context, logger *slog.Logger, session ledger.RunSession, message string) (*ledger.RunSession, error) {
	if s.probe != nil {
		s.probe.Invalidate()
	}
	s.mu.Lock()
	s.networkRetryAt = s.clock.Now().Add(s.cfg.Schedule.RetryDrainInterval())
	s.mu.Unlock()
	return s.close(ctx, logger, session, ledger.RunNetworkError, message)
}

func (s *Scheduler) close(ctx context.Context, logger *slog.Logger, session ledger.RunSession, status ledger.RunStatus, message string) (*ledger.RunSession, error) {
	persistCtx := context.WithoutCancel(ctx)
	ended := s.clock.Now()
	session.Status = status
	session.Message = message
	session.EndedAt = &ended
	if err := s.store.CloseSession(persistCtx, session); err != nil {
		s.notifyError(persistCtx, err, "closing a backup run")
		return nil, fmt.Errorf("close run session: %w", err)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("status", string(status)),
		logging.Int("total", session.Total),
		logging.Int("success", session.Success),
		logging.Int("failed", session.Failed),
		logging.Int("uploaded", session.Uploaded),
		logging.Int("deleted", session.Deleted),
		logging.Bytes("bytes_uploaded", session.BytesUploaded),
		logging.Duration("duration", ended.Sub(session.StartedAt)),
	}
	if message != "" {
		attrs = append(attrs, logging.String("message", message))
	}
	logger.Info("backup run finished", logging.Args(attrs...)...)

	s.notifyClosed(persistCtx, session)
	return &session, nil
}

func (s *Scheduler) notifyClosed(ctx context.Context, session ledger.RunSession) {
	var err error
	switch session.Status {
	case ledger.RunCompleted, ledger.RunNoFiles:
		if session.Trigger == ledger.TriggerDrain && session.Uploaded == 0 && session.Failed == 0 {
			return
		}
		err = s.notifier.NotifyRunCompleted(ctx, session)
	case ledger.RunNetworkError:
		if session.Trigger == ledger.TriggerDrain {
			return
		}
		err = s.notifier.NotifyRunDeferred(ctx, session)
	default:
		return
	}
	if err != nil {
		s.logger.Debug("run notification failed", logging.Error(err))
	}
}

func (s *Scheduler) notifyError(ctx context.Context, err error, label string) {
	s.setLastError(err)
	if notifyErr := s.notifier.NotifyError(ctx, err, label); notifyErr != nil && !errors.Is(notifyErr, context.Canceled) {
		s.logger.Debug("error notification failed", logging.Error(notifyErr))
	}
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Scheduler) setCurrent(session *ledger.RunSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == nil {
		s.current = nil
		return
	}
	copy := *session
	s.current = &copy
}
