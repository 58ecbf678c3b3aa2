package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nightshift/internal/config"
	"nightshift/internal/ledger"
)

func newRetriesCommand(ctx *commandContext) *cobra.Command {
	var exhausted bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "retries",
		Short: "List files waiting for another upload attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withView(func(view backupView) error {
				entries, err := view.Retries(cmd.Context(), exhausted)
				if err != nil {
					return err
				}
				if jsonOut {
					if entries == nil {
						entries = []*ledger.RetryEntry{}
					}
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					if exhausted {
						fmt.Fprintln(out, "No exhausted retries")
					} else {
						fmt.Fprintln(out, "No pending retries")
					}
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						e.Source(),
						itoa(e.Attempts),
						orDash(e.ErrorKind),
						formatWhen(e.LastAttempt),
						orDash(e.Error),
					})
				}
				fmt.Fprint(out, renderTable([]column{
					{Header: "Path", MaxWidth: 60},
					{Header: "Attempts", Right: true},
					{Header: "Kind"},
					{Header: "Last Attempt"},
					{Header: "Error", MaxWidth: 60},
				}, rows))
				if exhausted {
					fmt.Fprintln(out, "Use `nightshift retries reset <path>` after fixing the cause to try again.")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&exhausted, "exhausted", false, "List entries that reached the retry ceiling")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	cmd.AddCommand(newRetriesResetCommand(ctx))
	return cmd
}

func newRetriesResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <path>...",
		Short: "Clear the retry state of files so the next run retries them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withView(func(view backupView) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					path, err := config.ExpandPath(strings.TrimSpace(arg))
					if err != nil {
						return err
					}
					reset, err := view.ResetRetry(cmd.Context(), path)
					if err != nil {
						return fmt.Errorf("reset %s: %w", path, err)
					}
					if reset {
						fmt.Fprintf(out, "Retry state cleared for %s\n", path)
					} else {
						fmt.Fprintf(out, "No retry state for %s\n", path)
					}
				}
				return nil
			})
		},
	}
}
