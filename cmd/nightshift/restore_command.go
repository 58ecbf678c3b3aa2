package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nightshift/internal/config"
	"nightshift/internal/ledger"
	"nightshift/internal/restore"
)

func newRestoreCommand(ctx *commandContext) *cobra.Command {
	var to, match, since, until string
	var version int64
	var force, jsonOut bool

	cmd := &cobra.Command{
		Use:   "restore [path]...",
		Short: "Download backed-up files to their original location or --to a directory",
		Long: `Restore downloads the newest uploaded version of each path, checks it
against the recorded fingerprint and moves it into place. Existing files are
left alone unless --force is given. --match, --since and --until select
every uploaded file matching the filters in addition to the listed paths.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, searching, err := searchQuery(match, since, until, 0)
			if err != nil {
				return err
			}
			if len(args) == 0 && !searching {
				return fmt.Errorf("give at least one path or a --match/--since/--until filter")
			}
			if version != 0 && (len(args) != 1 || searching) {
				return fmt.Errorf("--version restores exactly one path")
			}
			if to != "" {
				if to, err = config.ExpandPath(strings.TrimSpace(to)); err != nil {
					return err
				}
			}

			return ctx.withView(func(view backupView) error {
				reqs := make([]restore.Request, 0, len(args))
				seen := make(map[string]bool)
				add := func(path string) {
					if key := ledger.Key(path); !seen[key] {
						seen[key] = true
						reqs = append(reqs, restore.Request{Path: path, To: to, Version: version, Overwrite: force})
					}
				}
				for _, arg := range args {
					path, err := config.ExpandPath(strings.TrimSpace(arg))
					if err != nil {
						return err
					}
					add(path)
				}
				if searching {
					records, err := view.Search(cmd.Context(), query)
					if err != nil {
						return err
					}
					for _, rec := range records {
						add(rec.Source())
					}
				}
				if len(reqs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No backed-up files match")
					return nil
				}

				summary, err := view.Restore(cmd.Context(), reqs)
				if err != nil {
					return err
				}
				if jsonOut {
					if err := writeJSON(cmd, summary); err != nil {
						return err
					}
				} else {
					renderRestoreSummary(cmd, summary)
				}
				if summary.Failed > 0 {
					return fmt.Errorf("%d of %d files failed to restore", summary.Failed, summary.Total)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Restore into this directory instead of the original location")
	cmd.Flags().Int64Var(&version, "version", 0, "Restore this version id (see `nightshift versions`)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace files that already exist")
	cmd.Flags().StringVar(&match, "match", "", "Also restore uploaded files whose path contains this text")
	cmd.Flags().StringVar(&since, "since", "", "Limit --match to files backed up on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Limit --match to files backed up on or before this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderRestoreSummary(cmd *cobra.Command, summary restore.Summary) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(summary.Results))
	for _, r := range summary.Results {
		result := "restored"
		if r.Error != "" {
			result = r.Error
		}
		rows = append(rows, []string{r.Path, orDash(r.Target), formatBytes(r.Bytes), result})
	}
	fmt.Fprint(out, renderTable([]column{
		{Header: "Path", MaxWidth: 50},
		{Header: "Target", MaxWidth: 50},
		{Header: "Size", Right: true},
		{Header: "Result", MaxWidth: 50},
	}, rows))
	fmt.Fprintf(out, "Restored %d of %d files\n", summary.Successful, summary.Total)
}

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "versions <path>",
		Short: "List the restorable versions of a backed-up file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return ctx.withView(func(view backupView) error {
				records, err := view.Versions(cmd.Context(), path)
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
					fmt.Fprintf(out, "No backups of %s\n", path)
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					state := "current"
					if r.Superseded {
						state = "superseded"
					}
					rows = append(rows, []string{
						strconv.FormatInt(r.ID, 10),
						formatWhen(r.LastAttempt),
						formatBytes(r.Size),
						itoa(r.AccountID),
						orDash(r.Folder),
						state,
					})
				}
				fmt.Fprint(out, renderTable([]column{
					{Header: "Version", Right: true},
					{Header: "Backed Up"},
					{Header: "Size", Right: true},
					{Header: "Account", Right: true},
					{Header: "Folder"},
					{Header: "State"},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
