package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"nightshift/internal/config"
	"nightshift/internal/daemonrun"
	"nightshift/internal/ipc"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/logs"
	"nightshift/internal/orchestrator"
	"nightshift/internal/scheduler"
)

const sessionPollInterval = 250 * time.Millisecond

func newRunCommand(ctx *commandContext) *cobra.Command {
	var local bool
	var gated bool
	var detach bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backup pass now",
		Long: "Run a backup pass now.\n\n" +
			"By default the daemon runs the pass and this command waits for it to finish. " +
			"With --local the pass runs in this process; the daemon must not be running. " +
			"With --gated the pass is skipped when today's scheduled pass already completed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var session *ledger.RunSession
			if local {
				session, err = runLocal(cmd, cfg, gated, jsonOut)
			} else {
				session, err = runThroughDaemon(cmd, ctx, gated, detach)
			}
			if err != nil || session == nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, session)
			}
			for _, line := range sessionSummary(session) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Run in this process instead of through the daemon")
	cmd.Flags().BoolVar(&gated, "gated", false, "Honor the once-per-day gate")
	cmd.Flags().BoolVar(&detach, "detach", false, "Return once the daemon has started the run")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the finished session as JSON")
	return cmd
}

func runThroughDaemon(cmd *cobra.Command, ctx *commandContext, gated, detach bool) (*ledger.RunSession, error) {
	var session *ledger.RunSession
	err := ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.RunNow(gated)
		if err != nil {
			return err
		}
		if detach {
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s started\n", resp.SessionID)
			return nil
		}
		session, err = waitForSession(cmd, client, resp.SessionID)
		return err
	})
	return session, err
}

func waitForSession(cmd *cobra.Command, client *ipc.Client, id string) (*ledger.RunSession, error) {
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()
	for {
		resp, err := client.Session(id)
		if err != nil {
			return nil, err
		}
		if resp.Session != nil && resp.Session.Closed() {
			return resp.Session, nil
		}
		select {
		case <-cmd.Context().Done():
			fmt.Fprintf(cmd.ErrOrStderr(), "Stopped waiting; run %s continues in the daemon\n", shortID(id))
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func runLocal(cmd *cobra.Command, cfg *config.Config, gated, quiet bool) (*ledger.RunSession, error) {
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("nightshift-local-%s.log", time.Now().UTC().Format("20060102T150405")))
	logger, err := logging.New(logging.Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logs.Prune(cfg.Paths.LogDir, cfg.Logging.Retention(), logPath, logger)

	trigger := ledger.TriggerManual
	if gated {
		trigger = ledger.TriggerScheduled
	}
	var progress *progressReporter
	if !quiet {
		progress = newProgressReporter(cmd.OutOrStdout())
		defer progress.finish()
	}
	req := scheduler.RunRequest{Trigger: trigger, Gated: gated}
	if progress != nil {
		req.Progress = progress.observe
	}

	session, err := daemonrun.RunOnce(cmd.Context(), cfg, logger, req)
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return nil, errors.New("a backup run is already in progress")
		}
		return nil, err
	}
	if progress != nil {
		progress.finish()
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Log: %s\n", logPath)
	}
	return session, nil
}

// progressReporter renders per-file outcomes of a local run: a live bar on
// terminals, one line per uploaded or failed file otherwise.
type progressReporter struct {
	w    io.Writer
	bar  *pb.ProgressBar
	once sync.Once

	mu       sync.Mutex
	uploaded int
	failed   int
}

func newProgressReporter(w io.Writer) *progressReporter {
	r := &progressReporter{w: w}
	if shouldColorize(w) {
		bar := pb.New(0)
		bar.SetWriter(w)
		bar.SetTemplate(`{{counters . }} files  {{string . "uploaded"}} uploaded  {{string . "failed"}} failed  {{etime . }}`)
		bar.Set("uploaded", "0").Set("failed", "0")
		bar.Start()
		r.bar = bar
	}
	return r
}

func (r *progressReporter) observe(out orchestrator.Outcome) {
	if out.Unchanged || out.Cancelled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if out.Uploaded {
		r.uploaded++
	}
	if out.Failed() {
		r.failed++
	}
	if r.bar != nil {
		r.bar.SetTotal(r.bar.Total() + 1)
		r.bar.Set("uploaded", itoa(r.uploaded)).Set("failed", itoa(r.failed))
		r.bar.Increment()
		return
	}
	switch {
	case out.Uploaded:
		fmt.Fprintf(r.w, "uploaded  %s -> %s\n", out.Path, orDash(out.Destination))
	case out.NetworkDown:
		fmt.Fprintf(r.w, "deferred  %s (network)\n", out.Path)
	case out.Failed():
		fmt.Fprintf(r.w, "failed    %s: %v\n", out.Path, out.Err)
	}
}

func (r *progressReporter) finish() {
	r.once.Do(func() {
		if r.bar != nil {
			r.bar.Finish()
		}
	})
}
