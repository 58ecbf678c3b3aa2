package restore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nightshift/internal/config"
	"nightshift/internal/destinations"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/restore"
	"nightshift/internal/services"
	"nightshift/internal/storage"
	"nightshift/internal/storage/s3store"
	"nightshift/internal/testsupport"
)

type harness struct {
	cfg      *config.Config
	store    *ledger.Store
	fake     *testsupport.FakeStorage
	restorer *restore.Restorer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	fake := testsupport.NewFakeStorage(1 << 30)
	members := []destinations.Member{{ID: 1, Name: "A", Provider: "fake", Client: fake}}
	return &harness{cfg: cfg, store: store, fake: fake, restorer: restore.New(store, members, logging.NewNop())}
}

// backup uploads path into folder and records it the way a run does.
func backup(t *testing.T, store *ledger.Store, client storage.Client, accountID int, path, folder string, at time.Time) *ledger.Record {
	t.Helper()
	ctx := context.Background()
	sum := testsupport.Fingerprint(t, path)
	res, err := client.UploadOrReplace(ctx, path, folder, filepath.Base(path))
	if err != nil {
		t.Fatalf("UploadOrReplace: %v", err)
	}
	rec, err := store.MarkUploaded(ctx, ledger.Record{
		Path:        path,
		Fingerprint: sum,
		Size:        res.Size,
		AccountID:   accountID,
		Folder:      folder,
		RemoteID:    res.RemoteID,
		LastAttempt: at,
	})
	if err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	return rec
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

var day1 = time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)

func TestRestoreToOriginalLocation(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(testsupport.SourceDir(h.cfg), "docs", "notes.txt")
	testsupport.WriteContent(t, path, []byte("quarterly notes"))
	rec := backup(t, h.store, h.fake, 1, path, "2026-03-01/documents", day1)
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		t.Fatal(err)
	}

	res, err := h.restorer.Restore(context.Background(), restore.Request{Path: path})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if res.Target != path || res.Version != rec.ID || res.Bytes != int64(len("quarterly notes")) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := readFile(t, path); got != "quarterly notes" {
		t.Fatalf("restored content %q", got)
	}
}

func TestRestoreRefusesToOverwriteWithoutForce(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(testsupport.SourceDir(h.cfg), "notes.txt")
	testsupport.WriteContent(t, path, []byte("original"))
	backup(t, h.store, h.fake, 1, path, "2026-03-01/documents", day1)
	testsupport.WriteContent(t, path, []byte("edited locally"))
	ctx := context.Background()

	if _, err := h.restorer.Restore(ctx, restore.Request{Path: path}); !errors.Is(err, restore.ErrTargetExists) {
		t.Fatalf("expected ErrTargetExists, got %v", err)
	}
	if got := readFile(t, path); got != "edited locally" {
		t.Fatalf("refused restore must leave the file alone, got %q", got)
	}
	if h.fake.Downloads() != 0 {
		t.Fatal("refused restore should not download")
	}

	if _, err := h.restorer.Restore(ctx, restore.Request{Path: path, Overwrite: true}); err != nil {
		t.Fatalf("forced Restore: %v", err)
	}
	if got := readFile(t, path); got != "original" {
		t.Fatalf("forced restore content %q", got)
	}
}

func TestRestoreIntoDirectory(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(testsupport.SourceDir(h.cfg), "photos", "beach.jpg")
	testsupport.WriteFile(t, path, 4096)
	backup(t, h.store, h.fake, 1, path, "2026-03-01/photos", day1)
	dir := filepath.Join(t.TempDir(), "recovered")

	res, err := h.restorer.Restore(context.Background(), restore.Request{Path: path, To: dir})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	want := filepath.Join(dir, "beach.jpg")
	if res.Target != want || testsupport.Fingerprint(t, want) != testsupport.Fingerprint(t, path) {
		t.Fatalf("unexpected restore into directory: %+v", res)
	}
}

func TestRestoreOlderVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(testsupport.SourceDir(h.cfg), "plan.txt")
	testsupport.WriteContent(t, path, []byte("draft one"))
	first := backup(t, h.store, h.fake, 1, path, "2026-03-01/documents", day1)
	testsupport.WriteContent(t, path, []byte("draft two"))
	backup(t, h.store, h.fake, 1, path, "2026-03-02/documents", day1.AddDate(0, 0, 1))

	versions, err := h.restorer.Versions(ctx, path)
	if err != nil || len(versions) != 2 || versions[1].ID != first.ID {
		t.Fatalf("Versions: %+v %v", versions, err)
	}
	dir := t.TempDir()
	if _, err := h.restorer.Restore(ctx, restore.Request{Path: path, To: dir, Version: first.ID}); err != nil {
		t.Fatalf("Restore version: %v", err)
	}
	if got := readFile(t, filepath.Join(dir, "plan.txt")); got != "draft one" {
		t.Fatalf("expected the older version, got %q", got)
	}
	if _, err := h.restorer.Restore(ctx, restore.Request{Path: "/elsewhere.txt", Version: first.ID}); !errors.Is(err, services.ErrInvalidSource) {
		t.Fatalf("version of another path should be rejected, got %v", err)
	}
}

func TestRestoreRejectsReplacedObject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(testsupport.SourceDir(h.cfg), "plan.txt")
	testsupport.WriteContent(t, path, []byte("morning"))
	first := backup(t, h.store, h.fake, 1, path, "2026-03-01/documents", day1)
	testsupport.WriteContent(t, path, []byte("evening"))
	backup(t, h.store, h.fake, 1, path, "2026-03-01/documents", day1.Add(12*time.Hour))
	dir := t.TempDir()

	_, err := h.restorer.Restore(ctx, restore.Request{Path: path, To: dir, Version: first.ID})
	if !errors.Is(err, services.ErrInvalidSource) {
		t.Fatalf("expected a verification failure, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("failed restore left files behind: %v", entries)
	}
}

func TestRestoreReportsMissingBackup(t *testing.T) {
	h := newHarness(t)
	_, err := h.restorer.Restore(context.Background(), restore.Request{Path: "/never/backed/up.txt"})
	if !errors.Is(err, services.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestRestoreUnknownDestination(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(testsupport.SourceDir(h.cfg), "orphan.txt")
	testsupport.WriteContent(t, path, []byte("orphan"))
	other := testsupport.NewFakeStorage(1 << 20)
	backup(t, h.store, other, 9, path, "2026-03-01/documents", day1)

	_, err := h.restorer.Restore(context.Background(), restore.Request{Path: path, To: t.TempDir()})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRestoreManySummarizes(t *testing.T) {
	h := newHarness(t)
	src := testsupport.SourceDir(h.cfg)
	a := filepath.Join(src, "a.txt")
	b := filepath.Join(src, "b.txt")
	testsupport.WriteFile(t, a, 100)
	testsupport.WriteFile(t, b, 200)
	backup(t, h.store, h.fake, 1, a, "2026-03-01/documents", day1)
	backup(t, h.store, h.fake, 1, b, "2026-03-01/documents", day1)
	dir := t.TempDir()

	summary := h.restorer.RestoreMany(context.Background(), []restore.Request{
		{Path: a, To: dir},
		{Path: filepath.Join(src, "missing.txt"), To: dir},
		{Path: b, To: dir},
	})
	if summary.Total != 3 || summary.Successful != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Results[1].Error == "" || summary.Results[2].Bytes != 200 {
		t.Fatalf("unexpected results: %+v", summary.Results)
	}
}

func TestRestoreFromS3Destination(t *testing.T) {
	fake := testsupport.NewFakeS3(t)
	cfg := testsupport.NewConfig(t, testsupport.WithDestinations(config.Destination{
		ID:        2,
		Provider:  config.ProviderS3,
		Endpoint:  fake.URL(),
		Bucket:    "archive",
		AccessKey: "key",
		SecretKey: "secret",
		Quota:     "1MB",
	}))
	store := testsupport.MustOpenLedger(t, cfg)
	members, err := destinations.MembersFromConfig(cfg)
	if err != nil {
		t.Fatalf("MembersFromConfig: %v", err)
	}
	if _, ok := members[0].Client.(*s3store.Store); !ok {
		t.Fatalf("expected an s3 client, got %T", members[0].Client)
	}
	path := filepath.Join(testsupport.SourceDir(cfg), "ledger.csv")
	sum := testsupport.WriteFile(t, path, 10_000)
	rec := backup(t, store, members[0].Client, 2, path, "2026-03-01/documents", day1)
	if rec.RemoteID != "archive/2026-03-01/documents/ledger.csv" {
		t.Fatalf("unexpected remote id %q", rec.RemoteID)
	}

	dir := t.TempDir()
	res, err := restore.New(store, members, logging.NewNop()).Restore(context.Background(), restore.Request{Path: path, To: dir})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if res.Bytes != 10_000 || testsupport.Fingerprint(t, res.Target) != sum {
		t.Fatalf("unexpected restore: %+v", res)
	}
}

func TestSearchFindsBackedUpFiles(t *testing.T) {
	h := newHarness(t)
	src := testsupport.SourceDir(h.cfg)
	report := filepath.Join(src, "report.pdf")
	photo := filepath.Join(src, "photo.jpg")
	testsupport.WriteFile(t, report, 100)
	testsupport.WriteFile(t, photo, 100)
	backup(t, h.store, h.fake, 1, report, "2026-03-01/documents", day1)
	backup(t, h.store, h.fake, 1, photo, "2026-03-02/photos", day1.AddDate(0, 0, 1))

	found, err := h.restorer.Search(context.Background(), ledger.SearchQuery{Pattern: "report"})
	if err != nil || len(found) != 1 || found[0].Source() != report {
		t.Fatalf("Search: %+v %v", found, err)
	}
	recent, _ := h.restorer.Search(context.Background(), ledger.SearchQuery{From: day1.Add(time.Hour)})
	if len(recent) != 1 || recent[0].Source() != photo {
		t.Fatalf("date filter: %+v", recent)
	}
}
