package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nightshift/internal/ledger"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	var statusFlag, match, since, until string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List ledger records, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseFileStatus(statusFlag)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			query, searching, err := searchQuery(match, since, until, limit)
			if err != nil {
				return err
			}
			if searching && status == ledger.StatusFailed {
				return fmt.Errorf("--match, --since and --until only search uploaded files")
			}
			return ctx.withView(func(view backupView) error {
				var records []*ledger.Record
				if searching {
					records, err = view.Search(cmd.Context(), query)
				} else {
					records, err = view.Files(cmd.Context(), status, limit)
				}
				if err != nil {
					return err
				}
				if jsonOut {
					if records == nil {
						records = []*ledger.Record{}
					}
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No files recorded")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.Source(),
						string(r.Status),
						formatBytes(r.Size),
						itoa(r.AccountID),
						orDash(r.Folder),
						formatWhen(r.LastAttempt),
						orDash(r.Error),
					})
				}
				fmt.Fprint(out, renderTable([]column{
					{Header: "Path", MaxWidth: 60},
					{Header: "Status"},
					{Header: "Size", Right: true},
					{Header: "Account", Right: true},
					{Header: "Folder"},
					{Header: "Last Attempt"},
					{Header: "Error", MaxWidth: 40},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (uploaded or failed)")
	cmd.Flags().StringVar(&match, "match", "", "Only uploaded files whose path contains this text")
	cmd.Flags().StringVar(&since, "since", "", "Only files backed up on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Only files backed up on or before this date (YYYY-MM-DD)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of records to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// searchQuery builds a ledger search from the filter flags and reports
// whether any filter was given.
func searchQuery(match, since, until string, limit int) (ledger.SearchQuery, bool, error) {
	from, err := parseDay(since, false)
	if err != nil {
		return ledger.SearchQuery{}, false, fmt.Errorf("--since: %w", err)
	}
	to, err := parseDay(until, true)
	if err != nil {
		return ledger.SearchQuery{}, false, fmt.Errorf("--until: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return ledger.SearchQuery{}, false, fmt.Errorf("--until is before --since")
	}
	q := ledger.SearchQuery{Pattern: strings.TrimSpace(match), From: from, To: to, Limit: limit}
	return q, q.Pattern != "" || !from.IsZero() || !to.IsZero(), nil
}
