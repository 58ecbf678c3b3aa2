package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nightshift/internal/daemonctl"
	"nightshift/internal/daemonrun"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the nightshift daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), LogLevel: startLogLevel},
				10*time.Second,
			)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.AlreadyRunning {
				fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
				return nil
			}
			fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the nightshift daemon; an active run keeps its unfinished files for the next pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 15*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		},
	}

	var runLogLevel string
	daemonCmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: runLogLevel})
		},
	}
	daemonCmd.Flags().StringVar(&runLogLevel, "log-level", "", "Override the configured log level")

	return []*cobra.Command{startCmd, stopCmd, daemonCmd}
}
