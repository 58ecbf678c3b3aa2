package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"nightshift/internal/config"
	"nightshift/internal/daemon"
	"nightshift/internal/destinations"
	"nightshift/internal/ipc"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/netprobe"
	"nightshift/internal/scheduler"
	"nightshift/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *ledger.Store
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

// newCLIConfig builds a config whose probe URL answers locally and writes
// the same settings to a config file for the CLI to load.
func newCLIConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(probe.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Schedule.BackupTime = "23:00"
		cfg.Network.ProbeURLs = []string{probe.URL}
		cfg.Network.ProbeTimeoutSeconds = 2
	}))
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return cfg, configPath
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg, configPath := newCLIConfig(t)
	logger := logging.NewNop()
	store := testsupport.MustOpenLedger(t, cfg)
	members, err := destinations.MembersFromConfig(cfg)
	if err != nil {
		t.Fatalf("MembersFromConfig: %v", err)
	}
	pool := destinations.NewPool(members, logger)
	probe := netprobe.New(cfg.Network, nil, logger)
	sched := scheduler.New(cfg, scheduler.Dependencies{
		Store:  store,
		Pool:   pool,
		Probe:  probe,
		Clock:  testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger: logger,
	})
	d, err := daemon.New(cfg, daemon.Components{Store: store, Pool: pool, Probe: probe, Scheduler: sched}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	socketPath := filepath.Join(cfg.Paths.StateDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		socketPath: socketPath,
		configPath: configPath,
	}
}

// setupOfflineEnv returns a config with no daemon behind its socket.
func setupOfflineEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg, configPath := newCLIConfig(t)
	return &cliTestEnv{
		cfg:        cfg,
		socketPath: filepath.Join(cfg.Paths.StateDir, "absent.sock"),
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	dest := cfg.Destinations[0]
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q
api_bind = ""

[backup]
source_roots = [%q]
attempt_backoff_seconds = 0

[schedule]
backup_time = %q

[network]
probe_urls = [%q]
probe_timeout_seconds = %d

[[destinations]]
id = %d
name = %q
provider = %q
path = %q
`,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		testsupport.SourceDir(cfg),
		cfg.Schedule.BackupTime,
		cfg.Network.ProbeURLs[0],
		cfg.Network.ProbeTimeoutSeconds,
		dest.ID,
		dest.Name,
		dest.Provider,
		dest.Path,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output string, substrings ...string) {
	t.Helper()
	for _, s := range substrings {
		if !strings.Contains(output, s) {
			t.Fatalf("expected output to contain %q\noutput:\n%s", s, output)
		}
	}
}
