package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"nightshift/internal/daemon"
	"nightshift/internal/ledger"
	"nightshift/internal/restore"
	"nightshift/internal/testsupport"
)

func TestStatusShowsDaemonAndPreflight(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out,
		"== Daemon ==",
		"running (pid",
		"== Last Run ==",
		"no runs recorded",
		"== Ledger ==",
		"== Preflight ==",
		"State directory",
		"Network",
	)
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", "--json", "--no-checks"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status daemon.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if !status.Running {
		t.Fatal("expected running daemon")
	}
	if len(status.Checks) != 0 {
		t.Fatalf("expected no checks with --no-checks, got %d", len(status.Checks))
	}
}

func TestRunThroughDaemonThenHistoryAndFiles(t *testing.T) {
	env := setupCLITestEnv(t)
	photo := filepath.Join(testsupport.SourceDir(env.cfg), "camera", "photo.jpg")
	testsupport.WriteFile(t, photo, 2048)

	out, _, err := runCLI(t, []string{"run"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, string(ledger.RunCompleted), "1 processed, 1 succeeded, 0 failed", "Uploaded: 1 files")

	out, _, err = runCLI(t, []string{"history"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "manual", string(ledger.RunCompleted))

	out, _, err = runCLI(t, []string{"files", "--status", "uploaded", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	var records []ledger.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode records: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].Path != photo || records[0].Status != ledger.StatusUploaded {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestRunDetachPrintsSessionID(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run", "--detach"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("run --detach: %v", err)
	}
	requireContains(t, out, "Run ", " started")
}

func TestFilesRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"files", "--status", "pending"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid status") {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestRetriesListAndReset(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := t.Context()
	path := filepath.Join(testsupport.SourceDir(env.cfg), "broken.jpg")
	if _, err := env.store.MarkFailed(ctx, ledger.Failure{
		Path:        path,
		Fingerprint: "abc",
		Size:        10,
		Error:       "upload refused",
		ErrorKind:   "transient_io",
	}, env.cfg.Backup.MaxRetries); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	out, _, err := runCLI(t, []string{"retries"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("retries: %v", err)
	}
	requireContains(t, out, "broken.jpg", "upload refused")

	out, _, err = runCLI(t, []string{"retries", "reset", path}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("retries reset: %v", err)
	}
	requireContains(t, out, "Retry state cleared for "+path)

	out, _, err = runCLI(t, []string{"retries", "reset", path}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	requireContains(t, out, "No retry state for "+path)

	out, _, err = runCLI(t, []string{"retries", "--exhausted"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("retries --exhausted: %v", err)
	}
	requireContains(t, out, "No exhausted retries")
}

func TestAccountsThroughDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"accounts"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	requireContains(t, out, "local", "healthy")
}

func TestRunLocalRefusedWhileDaemonRunning(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"run", "--local"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected already running error, got %v", err)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestRunLocalWithoutDaemon(t *testing.T) {
	env := setupOfflineEnv(t)
	testsupport.WriteFile(t, filepath.Join(testsupport.SourceDir(env.cfg), "notes.txt"), 512)

	out, _, err := runCLI(t, []string{"run", "--local"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("run --local: %v", err)
	}
	requireContains(t, out, "uploaded  ", "notes.txt", string(ledger.RunCompleted), "Log: ")

	out, _, err = runCLI(t, []string{"history"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("offline history: %v", err)
	}
	requireContains(t, out, "manual", string(ledger.RunCompleted))

	out, _, err = runCLI(t, []string{"run", "--local", "--gated"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("gated run: %v", err)
	}
	requireContains(t, out, "scheduled", string(ledger.RunNoFiles))

	out, _, err = runCLI(t, []string{"run", "--local", "--gated"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("second gated run: %v", err)
	}
	requireContains(t, out, string(ledger.RunAlreadyCompletedToday))
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running", "== Preflight ==", "local")
}

func TestAccountsWithoutDaemon(t *testing.T) {
	env := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"accounts", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	requireContains(t, out, `"provider": "local"`, `"healthy": true`)
}

func TestStopWithoutDaemon(t *testing.T) {
	env := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"stop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestTestNotifyWithoutDaemon(t *testing.T) {
	env := setupOfflineEnv(t)

	_, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "nightshift start") {
		t.Fatalf("expected dial error pointing at `nightshift start`, got %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	target := filepath.Join(dir, "nightshift", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, filepath.Join(dir, "none.sock"), "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration to "+target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, filepath.Join(dir, "none.sock"), "")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, filepath.Join(dir, "none.sock"), target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Config path: "+target, "home-minio (minio)", "Configuration valid")
}

func TestLogsShowsTrailingLines(t *testing.T) {
	env := setupOfflineEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	if err := os.WriteFile(env.cfg.CurrentLogPath(), []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}

func TestLogsWithoutFile(t *testing.T) {
	env := setupOfflineEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log output at")
}

func TestRestoreThroughDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	doc := filepath.Join(testsupport.SourceDir(env.cfg), "letters", "cover.txt")
	sum := testsupport.WriteFile(t, doc, 1500)
	if _, _, err := runCLI(t, []string{"run"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("run: %v", err)
	}

	out, _, err := runCLI(t, []string{"files", "--match", "cover", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("files --match: %v", err)
	}
	var records []ledger.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil || len(records) != 1 {
		t.Fatalf("decode records: %v\n%s", err, out)
	}
	out, _, err = runCLI(t, []string{"files", "--match", "nothing-like-this"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("files --match: %v", err)
	}
	requireContains(t, out, "No files recorded")

	out, _, err = runCLI(t, []string{"versions", doc}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	requireContains(t, out, "Version", "current", strconv.FormatInt(records[0].ID, 10))

	out, _, err = runCLI(t, []string{"restore", doc}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 files failed") {
		t.Fatalf("restoring over an existing file should fail, got %v", err)
	}
	requireContains(t, out, "Restored 0 of 1 files")

	dir := filepath.Join(t.TempDir(), "out")
	out, _, err = runCLI(t, []string{"restore", doc, "--to", dir}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("restore --to: %v", err)
	}
	requireContains(t, out, "Restored 1 of 1 files")
	if got := testsupport.Fingerprint(t, filepath.Join(dir, "cover.txt")); got != sum {
		t.Fatalf("restored content differs: %s != %s", got, sum)
	}
}

func TestRestoreWithoutDaemon(t *testing.T) {
	env := setupOfflineEnv(t)
	notes := filepath.Join(testsupport.SourceDir(env.cfg), "notes.txt")
	sum := testsupport.WriteFile(t, notes, 512)
	if _, _, err := runCLI(t, []string{"run", "--local"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("run --local: %v", err)
	}
	if err := os.Remove(notes); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"restore", "--match", "notes", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("offline restore: %v\n%s", err, out)
	}
	var summary restore.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Total != 1 || summary.Successful != 1 || summary.Results[0].Target != notes {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := testsupport.Fingerprint(t, notes); got != sum {
		t.Fatalf("restored content differs: %s != %s", got, sum)
	}
}

func TestRestoreArgumentChecks(t *testing.T) {
	env := setupOfflineEnv(t)

	_, _, err := runCLI(t, []string{"restore"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "at least one path") {
		t.Fatalf("expected a missing path error, got %v", err)
	}
	_, _, err = runCLI(t, []string{"restore", "/a", "/b", "--version", "3"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "exactly one path") {
		t.Fatalf("expected a --version error, got %v", err)
	}
	_, _, err = runCLI(t, []string{"files", "--since", "2026-03-05", "--until", "2026-03-01"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "before --since") {
		t.Fatalf("expected a date range error, got %v", err)
	}
}
