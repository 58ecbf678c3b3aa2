package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nightshift/internal/logs"
)

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightshift.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	lines, offset, err := logs.Last(path, 3)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 3 || lines[0] != "b" || lines[2] != "d" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != 8 {
		t.Fatalf("expected offset 8, got %d", offset)
	}

	lines, _, err = logs.Last(path, 10)
	if err != nil || len(lines) != 4 || lines[0] != "a" {
		t.Fatalf("short file: %#v %v", lines, err)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("expected empty result, got %#v %d %v", lines, offset, err)
	}
}

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func waitForLines(t *testing.T, c *collector, n int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d lines, got %#v", n, c.snapshot())
	return nil
}

func appendLine(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightshift.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, offset, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := &collector{}
	go func() { done <- logs.Follow(ctx, path, offset, c.add) }()

	appendLine(t, path, "later\npart")
	got := waitForLines(t, c, 1)
	if got[0] != "later" {
		t.Fatalf("unexpected first line %q", got[0])
	}
	appendLine(t, path, "ial\n")
	got = waitForLines(t, c, 2)
	if got[1] != "partial" {
		t.Fatalf("partial line should be emitted once complete, got %#v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not stop")
	}
}

func TestFollowRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightshift.log")
	if err := os.WriteFile(path, []byte("old line one\nold line two\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, offset, err := logs.Last(path, 0)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := &collector{}
	go func() { _ = logs.Follow(ctx, path, offset, c.add) }()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("new\n"), 0o644); err != nil {
		t.Fatalf("truncate log: %v", err)
	}
	got := waitForLines(t, c, 1)
	if got[0] != "new" {
		t.Fatalf("expected line from rewritten file, got %#v", got)
	}
}
