package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"nightshift/internal/ledger"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n))
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04"), humanize.Time(t))
}

func formatDuration(session *ledger.RunSession) string {
	if session == nil || session.EndedAt == nil {
		return "-"
	}
	return session.EndedAt.Sub(session.StartedAt).Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// sessionSummary renders the closing report of one run.
func sessionSummary(session *ledger.RunSession) []string {
	lines := []string{
		fmt.Sprintf("Run %s (%s, %s): %s", shortID(session.ID), session.Trigger, session.RunDate, session.Status),
	}
	if session.Total > 0 {
		lines = append(lines, fmt.Sprintf("  Files:    %d processed, %d succeeded, %d failed", session.Total, session.Success, session.Failed))
		lines = append(lines, fmt.Sprintf("  Uploaded: %d files, %s", session.Uploaded, formatBytes(session.BytesUploaded)))
		if session.Deleted > 0 {
			lines = append(lines, fmt.Sprintf("  Deleted:  %d local copies", session.Deleted))
		}
		if session.NetworkIssues > 0 {
			lines = append(lines, fmt.Sprintf("  Deferred: %d files (network)", session.NetworkIssues))
		}
	}
	if session.Message != "" {
		lines = append(lines, "  "+session.Message)
	}
	if d := formatDuration(session); d != "-" {
		lines = append(lines, "  Duration: "+d)
	}
	return lines
}
