package testsupport_test

import (
	"os"
	"path/filepath"
	"testing"

	"nightshift/internal/testsupport"
)

func TestWriteFileFixturesAreDistinctByName(t *testing.T) {
	dir := t.TempDir()
	a := testsupport.WriteFile(t, filepath.Join(dir, "a.txt"), 70_000)
	b := testsupport.WriteFile(t, filepath.Join(dir, "b.txt"), 70_000)
	if a == b {
		t.Fatal("fixtures with different names should not share a fingerprint")
	}
	info, err := os.Stat(filepath.Join(dir, "a.txt"))
	if err != nil || info.Size() != 70_000 {
		t.Fatalf("unexpected fixture size: %v %v", info, err)
	}

	again := testsupport.WriteFile(t, filepath.Join(t.TempDir(), "a.txt"), 70_000)
	if again != a {
		t.Fatal("same name and size should reproduce the fingerprint")
	}
	if small := testsupport.WriteFile(t, filepath.Join(dir, "empty.txt"), 0); small == "" {
		t.Fatal("expected a fingerprint for the one-byte fixture")
	}
}

func TestWriteContentReturnsLedgerFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hello.txt")
	if got := testsupport.WriteContent(t, path, []byte("hello world")); got != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Fatalf("unexpected fingerprint %s", got)
	}
}
