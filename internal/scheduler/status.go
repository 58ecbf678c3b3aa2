package scheduler

import (
	"context"
	"time"

	"nightshift/internal/destinations"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
)

// StatusSummary is the operator view of the scheduler.
type StatusSummary struct {
	Running   bool                   `json:"running"`
	Busy      bool                   `json:"busy"`
	Current   *ledger.RunSession     `json:"current,omitempty"`
	Latest    *ledger.RunSession     `json:"latest,omitempty"`
	Stats     ledger.Stats           `json:"stats"`
	Accounts  []destinations.Account `json:"accounts,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	LastTick  *time.Time             `json:"last_tick,omitempty"`
	NextDrain *time.Time             `json:"next_drain,omitempty"`
}

// Status returns the active or most recent session plus ledger counters.
func (s *Scheduler) Status(ctx context.Context) StatusSummary {
	s.mu.RLock()
	summary := StatusSummary{Running: s.running, Busy: s.busy}
	if s.current != nil {
		copy := *s.current
		summary.Current = &copy
	}
	if s.lastErr != nil {
		summary.LastError = s.lastErr.Error()
	}
	if !s.lastTick.IsZero() {
		tick := s.lastTick
		summary.LastTick = &tick
	}
	if s.running && !s.nextDrain.IsZero() {
		next := s.nextDrain
		summary.NextDrain = &next
	}
	s.mu.RUnlock()

	latest, err := s.store.LatestSession(ctx)
	if err != nil {
		s.logger.Warn("failed to read latest session", logging.Error(err))
	}
	summary.Latest = latest

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("failed to read ledger stats", logging.Error(err))
	}
	summary.Stats = stats
	if s.pool != nil {
		summary.Accounts = s.pool.Accounts()
	}
	return summary
}
