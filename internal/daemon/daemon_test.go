package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"nightshift/internal/config"
	"nightshift/internal/daemon"
	"nightshift/internal/destinations"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/restore"
	"nightshift/internal/scheduler"
	"nightshift/internal/testsupport"
)

type upProbe struct{}

func (upProbe) IsConnected(context.Context) bool { return true }
func (upProbe) Invalidate()                      {}

type fixture struct {
	cfg    *config.Config
	store  *ledger.Store
	fake   *testsupport.FakeStorage
	daemon *daemon.Daemon
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Schedule.BackupTime = "23:00"
	})}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenLedger(t, cfg)
	fake := testsupport.NewFakeStorage(1 << 30)
	pool := destinations.NewPool([]destinations.Member{{ID: 1, Name: "fake", Provider: "fake", Client: fake}}, logging.NewNop())
	clk := testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sched := scheduler.New(cfg, scheduler.Dependencies{
		Store:  store,
		Pool:   pool,
		Probe:  upProbe{},
		Clock:  clk,
		Logger: logging.NewNop(),
	})
	d, err := daemon.New(cfg, daemon.Components{Store: store, Pool: pool, Probe: upProbe{}, Scheduler: sched}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &fixture{cfg: cfg, store: store, fake: fake, daemon: d}
}

func waitForSession(t *testing.T, d *daemon.Daemon, id string) *ledger.RunSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := d.Session(context.Background(), id)
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		if session != nil && session.Closed() {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return nil
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := f.daemon.Status(ctx, false)
	if !status.Running || !status.Scheduler.Running {
		t.Fatalf("expected daemon to report running: %+v", status)
	}
	if status.LedgerPath != f.cfg.LedgerPath() || status.LockFilePath != f.cfg.LockPath() {
		t.Fatalf("unexpected paths: %+v", status)
	}

	// Second start should fail
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx, false).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	f := newFixture(t)
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	store := testsupport.MustOpenLedger(t, f.cfg)
	sched := scheduler.New(f.cfg, scheduler.Dependencies{Store: store, Logger: logging.NewNop()})
	other, err := daemon.New(f.cfg, daemon.Components{Store: store, Scheduler: sched}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunNowRecordsSession(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteFile(t, filepath.Join(testsupport.SourceDir(f.cfg), "notes.txt"), 1000)
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := f.daemon.RunNow(false)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	session := waitForSession(t, f.daemon, id)
	if session.Status != ledger.RunCompleted || session.Trigger != ledger.TriggerManual || session.Success != 1 {
		t.Fatalf("unexpected session: %+v", session)
	}

	history, err := f.daemon.History(context.Background(), 10)
	if err != nil || len(history) != 1 || history[0].ID != id {
		t.Fatalf("History: %+v %v", history, err)
	}
	files, err := f.daemon.Files(context.Background(), ledger.StatusUploaded, 10)
	if err != nil || len(files) != 1 {
		t.Fatalf("Files: %+v %v", files, err)
	}
}

func TestResetRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(testsupport.SourceDir(f.cfg), "stuck.txt")
	if _, err := f.store.MarkFailed(ctx, ledger.Failure{Path: path, Fingerprint: "abc"}, 1); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	exhausted, err := f.daemon.Retries(ctx, true)
	if err != nil || len(exhausted) != 1 {
		t.Fatalf("Retries: %+v %v", exhausted, err)
	}
	if err := f.daemon.ResetRetry(ctx, path); err != nil {
		t.Fatalf("ResetRetry: %v", err)
	}
	if err := f.daemon.ResetRetry(ctx, path); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second reset, got %v", err)
	}
	if err := f.daemon.ResetRetry(ctx, "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStatusChecksReportMissingRoot(t *testing.T) {
	f := newFixture(t)
	if err := os.RemoveAll(testsupport.SourceDir(f.cfg)); err != nil {
		t.Fatal(err)
	}
	status := f.daemon.Status(context.Background(), true)
	var failed int
	for _, c := range status.Checks {
		if !c.Passed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected one failed check, got %+v", status.Checks)
	}
}

func TestAccountsQueriesDestinations(t *testing.T) {
	f := newFixture(t)
	f.fake.SetUsed(1 << 20)
	accounts := f.daemon.Accounts(context.Background())
	if len(accounts) != 1 || !accounts[0].Healthy || accounts[0].UsedBytes != 1<<20 {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	f := newFixture(t)
	sent, msg, err := f.daemon.TestNotification(context.Background())
	if err != nil || sent || msg != "ntfy topic not configured" {
		t.Fatalf("unexpected result: %v %q %v", sent, msg, err)
	}
}

func TestRequestShutdown(t *testing.T) {
	f := newFixture(t)
	f.daemon.RequestShutdown()
	f.daemon.RequestShutdown()
	select {
	case <-f.daemon.ShutdownRequested():
	default:
		t.Fatal("expected shutdown channel to be closed")
	}
}

func TestRestoreUsesPoolDestinations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(testsupport.SourceDir(f.cfg), "budget.ods")
	f.fake.SetObject("2026-03-01/documents/budget.ods", []byte("rows"))
	if _, err := f.store.Put(ctx, ledger.Record{
		Path:        path,
		Fingerprint: "df347a373b8f92aa0ae3dd920a5ec2f6",
		Size:        4,
		AccountID:   1,
		Folder:      "2026-03-01/documents",
		RemoteID:    "2026-03-01/documents/budget.ods",
		Status:      ledger.StatusUploaded,
	}); err != nil {
		t.Fatal(err)
	}

	summary, err := f.daemon.Restore(ctx, []restore.Request{{Path: path}})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if summary.Successful != 1 || f.fake.Downloads() != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "rows" {
		t.Fatalf("restored %q %v", data, err)
	}
	if _, err := f.daemon.Restore(ctx, nil); err == nil {
		t.Fatal("expected an error without paths")
	}
	if _, err := f.daemon.Versions(ctx, " "); err == nil {
		t.Fatal("expected an error without a path")
	}
}
