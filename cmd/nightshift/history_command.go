package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nightshift/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return ctx.withView(func(view backupView) error {
				sessions, err := view.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					if sessions == nil {
						sessions = []*ledger.RunSession{}
					}
					return writeJSON(cmd, sessions)
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, []string{
						shortID(s.ID),
						s.StartedAt.Local().Format("2006-01-02 15:04"),
						string(s.Trigger),
						string(s.Status),
						itoa(s.Total),
						itoa(s.Uploaded),
						itoa(s.Failed),
						formatBytes(s.BytesUploaded),
						formatDuration(s),
						orDash(s.Message),
					})
				}
				fmt.Fprint(out, renderTable([]column{
					{Header: "ID"},
					{Header: "Started"},
					{Header: "Trigger"},
					{Header: "Status"},
					{Header: "Files", Right: true},
					{Header: "Uploaded", Right: true},
					{Header: "Failed", Right: true},
					{Header: "Bytes", Right: true},
					{Header: "Duration", Right: true},
					{Header: "Message", MaxWidth: 48},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
