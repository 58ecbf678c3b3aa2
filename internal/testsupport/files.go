package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"nightshift/internal/fingerprint"
)

// WriteFile creates a source fixture of exactly size bytes and returns its
// fingerprint. The content repeats the file's base name, so fixtures with
// different names never share a fingerprint while rewriting the same name
// and size reproduces it. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) string {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	pattern := []byte(filepath.Base(path) + "\n")
	const chunkSize = 32 * 1024
	chunk := bytes.Repeat(pattern, chunkSize/len(pattern)+1)[:chunkSize]

	f := createFixture(t, path)
	for remaining := size; remaining > 0; {
		n := min(remaining, int64(chunkSize))
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= n
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	return Fingerprint(t, path)
}

// WriteContent writes data to path, creating parent directories, and
// returns the fingerprint the ledger will record for it.
func WriteContent(t testing.TB, path string, data []byte) string {
	t.Helper()
	f := createFixture(t, path)
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	return Fingerprint(t, path)
}

// Fingerprint hashes the file at path.
func Fingerprint(t testing.TB, path string) string {
	t.Helper()
	sum, err := fingerprint.File(path)
	if err != nil {
		t.Fatalf("fingerprint %s: %v", path, err)
	}
	return sum
}

func createFixture(t testing.TB, path string) *os.File {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	return f
}
