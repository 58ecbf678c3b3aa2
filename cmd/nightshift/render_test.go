package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"nightshift/internal/ledger"
)

func TestRenderStatusLinePlain(t *testing.T) {
	line := renderStatusLine("Daemon", statusOK, "running", false)
	if !strings.HasPrefix(line, "  Daemon:") || !strings.HasSuffix(line, "[OK] running") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("plain output must not contain ANSI escapes: %q", line)
	}
}

func TestRenderStatusLineColour(t *testing.T) {
	line := renderStatusLine("Network", statusError, "", true)
	if !strings.HasPrefix(line, ansiRed) || !strings.HasSuffix(line, ansiReset) {
		t.Fatalf("expected red line, got %q", line)
	}
}

func TestPrinterSkipsColourForBuffers(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	p.section("Ledger")
	if buf.String() != "== Ledger ==\n------------\n" {
		t.Fatalf("unexpected section output %q", buf.String())
	}
}

func TestSessionSummary(t *testing.T) {
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	lines := sessionSummary(&ledger.RunSession{
		ID:        "0123456789abcdef",
		Trigger:   ledger.TriggerScheduled,
		RunDate:   "2026-03-01",
		Status:    ledger.RunNetworkError,
		StartedAt: started,
		EndedAt:   &ended,
		Counts:    ledger.Counts{Total: 3, Success: 1, Failed: 0, Uploaded: 1, BytesUploaded: 2048, NetworkIssues: 2},
		Message:   "network lost; 2 files deferred",
	})
	out := strings.Join(lines, "\n")
	for _, want := range []string{
		"Run 01234567 (scheduled, 2026-03-01): NETWORK_ERROR",
		"3 processed, 1 succeeded, 0 failed",
		"Uploaded: 1 files, 2.0 kB",
		"Deferred: 2 files (network)",
		"network lost; 2 files deferred",
		"Duration: 1m30s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestParseFileStatus(t *testing.T) {
	for raw, want := range map[string]ledger.Status{"": "", "Uploaded": ledger.StatusUploaded, " failed ": ledger.StatusFailed} {
		got, err := parseFileStatus(raw)
		if err != nil || got != want {
			t.Fatalf("parseFileStatus(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := parseFileStatus("pending"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestRenderTableTruncatesWideColumns(t *testing.T) {
	out := renderTable([]column{{Header: "Path", MaxWidth: 10}}, [][]string{{strings.Repeat("x", 40)}})
	if strings.Contains(out, strings.Repeat("x", 40)) {
		t.Fatalf("expected truncation:\n%s", out)
	}
	if !strings.Contains(out, "…") {
		t.Fatalf("expected ellipsis:\n%s", out)
	}
}
