package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nightshift/internal/config"
	"nightshift/internal/daemon"
	"nightshift/internal/destinations"
	"nightshift/internal/ipc"
	"nightshift/internal/ledger"
	"nightshift/internal/netprobe"
	"nightshift/internal/preflight"
	"nightshift/internal/scheduler"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var skipChecks bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, run and ledger status with preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := collectStatus(cmd.Context(), ctx, cfg, !skipChecks)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			renderStatus(newPrinter(cmd.OutOrStdout()), status, !skipChecks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipChecks, "no-checks", false, "Skip preflight checks (they query every destination)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// collectStatus asks the daemon when one answers and otherwise assembles the
// same view from the ledger and the configured destinations.
func collectStatus(ctx context.Context, cc *commandContext, cfg *config.Config, withChecks bool) (daemon.Status, error) {
	client, err := ipc.Dial(cc.socketPath())
	if err == nil {
		defer client.Close()
		resp, statusErr := client.Status(withChecks)
		if statusErr != nil {
			return daemon.Status{}, statusErr
		}
		return resp.Status, nil
	}
	if !daemonUnavailable(err) {
		return daemon.Status{}, wrapDialError(err, cc.socketPath())
	}

	status := daemon.Status{
		LedgerPath:   cfg.LedgerPath(),
		LockFilePath: cfg.LockPath(),
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if store, openErr := ledger.Open(cfg); openErr == nil {
		summary := scheduler.StatusSummary{}
		if stats, statsErr := store.Stats(queryCtx); statsErr == nil {
			summary.Stats = stats
		}
		if latest, latestErr := store.LatestSession(queryCtx); latestErr == nil {
			summary.Latest = latest
		}
		_ = store.Close()
		status.Scheduler = summary
	} else {
		status.Scheduler.LastError = openErr.Error()
	}

	if withChecks {
		members, membersErr := destinations.MembersFromConfig(cfg)
		if membersErr != nil {
			status.Checks = append(status.Checks, preflight.Result{Name: "Destinations", Detail: membersErr.Error()})
		}
		probe := netprobe.New(cfg.Network, nil, nil)
		status.Checks = append(preflight.RunAll(ctx, cfg, members, probe), status.Checks...)
	}
	return status, nil
}

func renderStatus(p *printer, status daemon.Status, withChecks bool) {
	p.section("Daemon")
	if status.Running {
		p.status("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID))
	} else {
		p.status("Daemon", statusWarn, "not running")
	}
	p.status("Ledger", statusInfo, status.LedgerPath)
	sched := status.Scheduler
	if sched.NextDrain != nil {
		p.status("Next retry drain", statusInfo, formatWhen(*sched.NextDrain))
	}
	if sched.LastError != "" {
		p.status("Last error", statusError, sched.LastError)
	}
	p.blank()

	if sched.Current != nil {
		p.section("Current Run")
		current := sched.Current
		p.status("Run", statusInfo, fmt.Sprintf("%s %s (%s)", shortID(current.ID), current.Status, current.Trigger))
		p.status("Progress", statusInfo, fmt.Sprintf("%d processed, %d uploaded, %d failed", current.Total, current.Uploaded, current.Failed))
		p.status("Started", statusInfo, formatWhen(current.StartedAt))
		p.blank()
	}

	p.section("Last Run")
	if latest := sched.Latest; latest != nil {
		p.status("Run", runStatusKind(latest.Status), fmt.Sprintf("%s %s (%s, %s)", shortID(latest.ID), latest.Status, latest.Trigger, latest.RunDate))
		p.status("Files", statusInfo, fmt.Sprintf("%d processed, %d uploaded (%s), %d failed",
			latest.Total, latest.Uploaded, formatBytes(latest.BytesUploaded), latest.Failed))
		if latest.Message != "" {
			p.status("Message", statusInfo, latest.Message)
		}
		if latest.EndedAt != nil {
			p.status("Finished", statusInfo, formatWhen(*latest.EndedAt))
		}
	} else {
		p.status("Run", statusInfo, "no runs recorded")
	}
	p.blank()

	p.section("Ledger")
	stats := sched.Stats
	fmt.Fprint(p.w, renderTable(
		[]column{{Header: "Records", Right: true}, {Header: "Uploaded", Right: true}, {Header: "Failed", Right: true},
			{Header: "Pending Retries", Right: true}, {Header: "Exhausted", Right: true}, {Header: "Backed Up", Right: true}},
		[][]string{{itoa(stats.Records), itoa(stats.Uploaded), itoa(stats.Failed),
			itoa(stats.Pending), itoa(stats.Exhausted), formatBytes(stats.BytesBackedUp)}},
	))

	if len(sched.Accounts) > 0 {
		p.blank()
		p.section("Destinations")
		fmt.Fprint(p.w, renderAccounts(sched.Accounts))
	}

	if withChecks {
		p.blank()
		p.section("Preflight")
		for _, check := range status.Checks {
			p.status(check.Name, passKind(check.Passed), check.Detail)
		}
	}
}

func runStatusKind(status ledger.RunStatus) statusKind {
	switch status {
	case ledger.RunCompleted, ledger.RunNoFiles, ledger.RunAlreadyCompletedToday:
		return statusOK
	case ledger.RunNetworkError, ledger.RunCancelled:
		return statusWarn
	default:
		return statusInfo
	}
}
