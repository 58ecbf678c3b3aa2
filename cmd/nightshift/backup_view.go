package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nightshift/internal/config"
	"nightshift/internal/destinations"
	"nightshift/internal/ipc"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/restore"
)

// backupView is the read side of the ledger shared by the daemon-backed and
// the offline commands.
type backupView interface {
	History(ctx context.Context, limit int) ([]*ledger.RunSession, error)
	Retries(ctx context.Context, exhausted bool) ([]*ledger.RetryEntry, error)
	ResetRetry(ctx context.Context, path string) (bool, error)
	Files(ctx context.Context, status ledger.Status, limit int) ([]*ledger.Record, error)
	Search(ctx context.Context, q ledger.SearchQuery) ([]*ledger.Record, error)
	Versions(ctx context.Context, path string) ([]*ledger.Record, error)
	Restore(ctx context.Context, reqs []restore.Request) (restore.Summary, error)
}

// --- IPC adapter ---

type ipcView struct {
	client *ipc.Client
}

func (v *ipcView) History(_ context.Context, limit int) ([]*ledger.RunSession, error) {
	resp, err := v.client.History(limit)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (v *ipcView) Retries(_ context.Context, exhausted bool) ([]*ledger.RetryEntry, error) {
	resp, err := v.client.Retries(exhausted)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (v *ipcView) ResetRetry(_ context.Context, path string) (bool, error) {
	resp, err := v.client.ResetRetry(path)
	if err != nil {
		return false, err
	}
	return resp.Reset, nil
}

func (v *ipcView) Files(_ context.Context, status ledger.Status, limit int) ([]*ledger.Record, error) {
	resp, err := v.client.Files(string(status), limit)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (v *ipcView) Search(_ context.Context, q ledger.SearchQuery) ([]*ledger.Record, error) {
	resp, err := v.client.Search(q.Pattern, q.From, q.To, q.Limit)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (v *ipcView) Versions(_ context.Context, path string) ([]*ledger.Record, error) {
	resp, err := v.client.Versions(path)
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (v *ipcView) Restore(_ context.Context, reqs []restore.Request) (restore.Summary, error) {
	resp, err := v.client.Restore(reqs)
	if err != nil {
		return restore.Summary{}, err
	}
	return resp.Summary, nil
}

// --- direct ledger adapter ---

type storeView struct {
	store *ledger.Store
	cfg   *config.Config
}

func (v *storeView) History(ctx context.Context, limit int) ([]*ledger.RunSession, error) {
	return v.store.ListSessions(ctx, limit)
}

func (v *storeView) Retries(ctx context.Context, exhausted bool) ([]*ledger.RetryEntry, error) {
	if exhausted {
		return v.store.ListExhausted(ctx)
	}
	return v.store.ListPending(ctx)
}

func (v *storeView) ResetRetry(ctx context.Context, path string) (bool, error) {
	if err := v.store.ResetRetry(ctx, path); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (v *storeView) Files(ctx context.Context, status ledger.Status, limit int) ([]*ledger.Record, error) {
	return v.store.ListRecords(ctx, status, limit)
}

func (v *storeView) Search(ctx context.Context, q ledger.SearchQuery) ([]*ledger.Record, error) {
	return v.store.Search(ctx, q)
}

func (v *storeView) Versions(ctx context.Context, path string) ([]*ledger.Record, error) {
	return v.store.Versions(ctx, path)
}

func (v *storeView) Restore(ctx context.Context, reqs []restore.Request) (restore.Summary, error) {
	members, err := destinations.MembersFromConfig(v.cfg)
	if err != nil {
		return restore.Summary{}, err
	}
	return restore.New(v.store, members, logging.NewNop()).RestoreMany(ctx, reqs), nil
}

// parseDay accepts a date or an RFC 3339 timestamp. A bare date used as an
// upper bound covers the whole day.
func parseDay(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD or RFC 3339)", raw)
	}
	if endOfDay {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}

func parseFileStatus(raw string) (ledger.Status, error) {
	switch status := ledger.Status(strings.ToLower(strings.TrimSpace(raw))); status {
	case "", ledger.StatusUploaded, ledger.StatusFailed:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status %q (use uploaded or failed)", raw)
	}
}
