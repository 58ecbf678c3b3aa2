package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"nightshift/internal/ledger"
	"nightshift/internal/services"
	"nightshift/internal/testsupport"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	return testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
}

func uploaded(path, fp string) ledger.Record {
	return ledger.Record{
		Path:        path,
		Fingerprint: fp,
		Size:        10,
		AccountID:   1,
		Folder:      "2026-03-01/documents",
		RemoteID:    "2026-03-01/documents/x",
		Status:      ledger.StatusUploaded,
		LastAttempt: time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC),
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := openStore(t)
	rec, err := store.Get(context.Background(), "/nope")
	if err != nil || rec != nil {
		t.Fatalf("expected nil record, got %+v %v", rec, err)
	}
}

func TestPutSupersedesOnFingerprintChange(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.Put(ctx, uploaded("/src/a.txt", "aaa"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	same := uploaded("/src/a.txt", "aaa")
	same.RemoteID = "moved"
	updated, err := store.Put(ctx, same)
	if err != nil {
		t.Fatalf("Put same fingerprint: %v", err)
	}
	if updated.ID != first.ID {
		t.Fatalf("same fingerprint should update in place: %d vs %d", updated.ID, first.ID)
	}

	if _, err := store.Put(ctx, uploaded("/src/a.txt", "bbb")); err != nil {
		t.Fatalf("Put new fingerprint: %v", err)
	}
	current, err := store.Get(ctx, "/src/a.txt")
	if err != nil || current == nil || current.Fingerprint != "bbb" {
		t.Fatalf("expected current record with new fingerprint, got %+v %v", current, err)
	}
	history, err := store.History(ctx, "/src/a.txt")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || !history[0].Superseded || history[0].RemoteID != "moved" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestPutRejectsInvalidRecords(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, ledger.Record{Path: "/a", Fingerprint: "x", Status: "weird"}); err == nil {
		t.Fatal("expected invalid status error")
	}
	if _, err := store.Put(ctx, ledger.Record{Path: "/a", Status: ledger.StatusUploaded}); err == nil {
		t.Fatal("expected missing fingerprint error")
	}
}

func TestPathKeysAreUnicodeNormalized(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	decomposed := "/photos/cafe\u0301.jpg"
	composed := "/photos/caf\u00e9.jpg"
	if _, err := store.Put(ctx, uploaded(decomposed, "aaa")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, err := store.Get(ctx, composed)
	if err != nil || rec == nil {
		t.Fatalf("composed lookup should find decomposed path: %+v %v", rec, err)
	}
}

func TestMarkFailedCountsTowardRetryCeiling(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	failure := ledger.Failure{Path: "/src/a.txt", Fingerprint: "aaa", Size: 10, Error: "reset", ErrorKind: string(services.KindTransientIO)}

	for i := 1; i <= 3; i++ {
		entry, err := store.MarkFailed(ctx, failure, 3)
		if err != nil {
			t.Fatalf("MarkFailed %d: %v", i, err)
		}
		if entry.Attempts != i || entry.Exhausted != (i == 3) {
			t.Fatalf("cycle %d: unexpected entry %+v", i, entry)
		}
	}

	rec, _ := store.Get(ctx, "/src/a.txt")
	if rec == nil || rec.Status != ledger.StatusFailed || rec.RetryCount != 3 || rec.Error != "reset" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if pending, _ := store.ListPending(ctx); len(pending) != 0 {
		t.Fatalf("exhausted entry must not be pending: %+v", pending)
	}
	exhausted, err := store.ListExhausted(ctx)
	if err != nil || len(exhausted) != 1 || exhausted[0].ErrorKind != string(services.KindTransientIO) {
		t.Fatalf("ListExhausted: %+v %v", exhausted, err)
	}
	failed, err := store.ListFailed(ctx, 3)
	if err != nil || len(failed) != 1 {
		t.Fatalf("ListFailed: %+v %v", failed, err)
	}
	if failed, _ := store.ListFailed(ctx, 4); len(failed) != 0 {
		t.Fatalf("records below the ceiling are not terminally failed: %+v", failed)
	}
}

func TestMarkFailedRestartsCountForNewContent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.MarkFailed(ctx, ledger.Failure{Path: "/a", Fingerprint: "aaa"}, 3); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := store.MarkFailed(ctx, ledger.Failure{Path: "/a", Fingerprint: "aaa"}, 3); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	entry, err := store.MarkFailed(ctx, ledger.Failure{Path: "/a", Fingerprint: "bbb"}, 3)
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if entry.Attempts != 1 || entry.Fingerprint != "bbb" {
		t.Fatalf("new content should restart the count: %+v", entry)
	}
}

func TestMarkUploadedClearsRetryEntry(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.MarkFailed(ctx, ledger.Failure{Path: "/a", Fingerprint: "aaa"}, 3); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	rec, err := store.MarkUploaded(ctx, uploaded("/a", "aaa"))
	if err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if rec.Status != ledger.StatusUploaded || rec.RetryCount != 0 || rec.Error != "" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if entry, _ := store.RetryEntry(ctx, "/a"); entry != nil {
		t.Fatalf("retry entry should be cleared: %+v", entry)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Records != 1 || stats.Uploaded != 1 || stats.Pending != 0 || stats.BytesBackedUp != 10 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestResetRetry(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.ResetRetry(ctx, "/a"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for range 2 {
		if _, err := store.MarkFailed(ctx, ledger.Failure{Path: "/a", Fingerprint: "aaa"}, 2); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	}
	if err := store.ResetRetry(ctx, "/a"); err != nil {
		t.Fatalf("ResetRetry: %v", err)
	}
	if rec, _ := store.Get(ctx, "/a"); rec != nil {
		t.Fatalf("failed record should be superseded: %+v", rec)
	}
	entry, err := store.MarkFailed(ctx, ledger.Failure{Path: "/a", Fingerprint: "aaa"}, 2)
	if err != nil || entry.Attempts != 1 {
		t.Fatalf("count should restart after reset: %+v %v", entry, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	session := ledger.RunSession{ID: "run-1", Trigger: ledger.TriggerScheduled, RunDate: "2026-03-01"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.SetSessionStatus(ctx, "run-1", ledger.RunRunning); err != nil {
		t.Fatalf("SetSessionStatus: %v", err)
	}
	if err := store.SetSessionStatus(ctx, "run-1", ledger.RunCompleted); err == nil {
		t.Fatal("terminal status must go through CloseSession")
	}
	if done, _ := store.DayCompleted(ctx, "2026-03-01"); done {
		t.Fatal("open session must not close the gate")
	}

	session.Status = ledger.RunCompleted
	session.Counts = ledger.Counts{Total: 2, Success: 2, Uploaded: 2, BytesUploaded: 20}
	if err := store.CloseSession(ctx, session); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := store.CloseSession(ctx, session); !errors.Is(err, ledger.ErrSessionClosed) {
		t.Fatalf("closed session must be immutable, got %v", err)
	}
	if err := store.SetSessionStatus(ctx, "run-1", ledger.RunRunning); !errors.Is(err, ledger.ErrSessionClosed) {
		t.Fatalf("closed session must be immutable, got %v", err)
	}

	got, err := store.Session(ctx, "run-1")
	if err != nil || got == nil {
		t.Fatalf("Session: %+v %v", got, err)
	}
	if got.Status != ledger.RunCompleted || got.Total != 2 || got.BytesUploaded != 20 || got.EndedAt == nil {
		t.Fatalf("unexpected session: %+v", got)
	}
	if done, _ := store.DayCompleted(ctx, "2026-03-01"); !done {
		t.Fatal("completed scheduled session should close the gate")
	}
}

func TestDayCompletedIgnoresManualAndFailedSessions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	closed := []ledger.RunSession{
		{ID: "manual", Trigger: ledger.TriggerManual, RunDate: "2026-03-01", Status: ledger.RunCompleted},
		{ID: "offline", Trigger: ledger.TriggerScheduled, RunDate: "2026-03-01", Status: ledger.RunNetworkError},
		{ID: "drain", Trigger: ledger.TriggerDrain, RunDate: "2026-03-01", Status: ledger.RunNoFiles},
	}
	for _, s := range closed {
		if err := store.CreateSession(ctx, ledger.RunSession{ID: s.ID, Trigger: s.Trigger, RunDate: s.RunDate}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := store.CloseSession(ctx, s); err != nil {
			t.Fatalf("CloseSession: %v", err)
		}
	}
	if done, _ := store.DayCompleted(ctx, "2026-03-01"); done {
		t.Fatal("only scheduled COMPLETED or NO_FILES sessions close the gate")
	}
	sessions, err := store.ListSessions(ctx, 2)
	if err != nil || len(sessions) != 2 {
		t.Fatalf("ListSessions limit: %d %v", len(sessions), err)
	}
}

func TestAbandonOpenSessions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.CreateSession(ctx, ledger.RunSession{ID: "open", Trigger: ledger.TriggerScheduled, RunDate: "2026-03-01"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	n, err := store.AbandonOpenSessions(ctx, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("AbandonOpenSessions: %d %v", n, err)
	}
	got, _ := store.Session(ctx, "open")
	if got == nil || got.Status != ledger.RunCancelled || got.EndedAt == nil {
		t.Fatalf("unexpected session: %+v", got)
	}
	latest, _ := store.LatestSession(ctx)
	if latest == nil || latest.ID != "open" {
		t.Fatalf("unexpected latest session: %+v", latest)
	}
}

func TestCorruptRowFailsOnlyThatRecord(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, uploaded("/good", "aaa")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, uploaded("/bad", "bbb")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`UPDATE backup_records SET status = 'mystery' WHERE path = '/bad'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, err := store.Get(ctx, "/bad"); !errors.Is(err, services.ErrLedgerCorruption) {
		t.Fatalf("expected ledger corruption, got %v", err)
	}
	good, err := store.Get(ctx, "/good")
	if err != nil || good == nil {
		t.Fatalf("healthy record must stay readable: %+v %v", good, err)
	}
	listed, err := store.ListRecords(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(listed) != 1 || listed[0].Path != "/good" {
		t.Fatalf("expected only the healthy record listed, got %+v", listed)
	}
}

func TestSchemaMismatchRefusesToOpen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := raw.Exec(`UPDATE schema_version SET version = 99`); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = raw.Close()

	if _, err := ledger.Open(cfg); !errors.Is(err, ledger.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Put(context.Background(), uploaded("/a", "aaa")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenLedger(t, cfg)
	if rec, err := reopened.Get(context.Background(), "/a"); err != nil || rec == nil {
		t.Fatalf("record lost across reopen: %+v %v", rec, err)
	}
}

func TestFailureKeepsOnDiskPath(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	decomposed := "/photos/cafe\u0301.jpg"
	entry, err := store.MarkFailed(ctx, ledger.Failure{Path: decomposed, Fingerprint: "aaa", Size: 10, Error: "reset"}, 3)
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if entry.Path != ledger.Key(decomposed) || entry.SourcePath != decomposed {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	pending, err := store.ListPending(ctx)
	if err != nil || len(pending) != 1 || pending[0].Source() != decomposed {
		t.Fatalf("pending entry lost its on-disk path: %+v %v", pending, err)
	}
	rec, _ := store.Get(ctx, decomposed)
	if rec == nil || rec.Source() != decomposed {
		t.Fatalf("record lost its on-disk path: %+v", rec)
	}
}

func TestOpenUpgradesVersionOneLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	path := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	for _, stmt := range []string{
		`ALTER TABLE backup_records DROP COLUMN source_path`,
		`ALTER TABLE retry_queue DROP COLUMN source_path`,
		`INSERT INTO retry_queue (path, fingerprint, attempts, last_attempt, exhausted) VALUES ('/old.txt', 'aaa', 1, '2026-03-01T01:00:00Z', 0)`,
		`UPDATE schema_version SET version = 1`,
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("downgrade %q: %v", stmt, err)
		}
	}
	_ = raw.Close()

	upgraded := testsupport.MustOpenLedger(t, cfg)
	pending, err := upgraded.ListPending(context.Background())
	if err != nil || len(pending) != 1 || pending[0].Source() != "/old.txt" {
		t.Fatalf("old entries should fall back to their key: %+v %v", pending, err)
	}
	if _, err := upgraded.Put(context.Background(), uploaded("/new.txt", "bbb")); err != nil {
		t.Fatalf("Put after upgrade: %v", err)
	}
}

func TestSearchFiltersByPatternAndDate(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2026, 3, d, 1, 0, 0, 0, time.UTC) }
	for _, rec := range []ledger.Record{
		{Path: "/docs/report_2026.pdf", Fingerprint: "a", Size: 1, AccountID: 1, RemoteID: "r1", Status: ledger.StatusUploaded, LastAttempt: day(1)},
		{Path: "/docs/report-draft.pdf", Fingerprint: "b", Size: 1, AccountID: 1, RemoteID: "r2", Status: ledger.StatusUploaded, LastAttempt: day(3)},
		{Path: "/photos/beach.jpg", Fingerprint: "c", Size: 1, AccountID: 1, RemoteID: "r3", Status: ledger.StatusUploaded, LastAttempt: day(5)},
		{Path: "/docs/report_broken.pdf", Fingerprint: "d", Size: 1, Status: ledger.StatusFailed, LastAttempt: day(5), RetryCount: 1},
	} {
		if _, err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Put %s: %v", rec.Path, err)
		}
	}

	all, err := store.Search(ctx, ledger.SearchQuery{Pattern: "report"})
	if err != nil || len(all) != 2 || all[0].Path != "/docs/report-draft.pdf" {
		t.Fatalf("expected uploaded reports newest first: %+v %v", all, err)
	}
	literal, _ := store.Search(ctx, ledger.SearchQuery{Pattern: "report_"})
	if len(literal) != 1 || literal[0].Path != "/docs/report_2026.pdf" {
		t.Fatalf("underscore should match literally: %+v", literal)
	}
	ranged, _ := store.Search(ctx, ledger.SearchQuery{From: day(2), To: day(4)})
	if len(ranged) != 1 || ranged[0].Path != "/docs/report-draft.pdf" {
		t.Fatalf("date range not applied: %+v", ranged)
	}
	limited, _ := store.Search(ctx, ledger.SearchQuery{Limit: 1})
	if len(limited) != 1 || limited[0].Path != "/photos/beach.jpg" {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestVersionsListsUploadedContentNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	first, err := store.Put(ctx, uploaded("/src/a.txt", "aaa"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := store.Put(ctx, uploaded("/src/a.txt", "bbb"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.MarkFailed(ctx, ledger.Failure{Path: "/src/a.txt", Fingerprint: "ccc", Size: 10, Error: "reset"}, 3); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	versions, err := store.Versions(ctx, "/src/a.txt")
	if err != nil || len(versions) != 2 {
		t.Fatalf("expected two uploaded versions: %+v %v", versions, err)
	}
	if versions[0].ID != second.ID || versions[1].ID != first.ID || !versions[0].Superseded {
		t.Fatalf("unexpected order: %+v", versions)
	}
	rec, err := store.RecordByID(ctx, first.ID)
	if err != nil || rec == nil || rec.Fingerprint != "aaa" {
		t.Fatalf("RecordByID: %+v %v", rec, err)
	}
	if missing, err := store.RecordByID(ctx, 9999); err != nil || missing != nil {
		t.Fatalf("missing id should be nil: %+v %v", missing, err)
	}
}
