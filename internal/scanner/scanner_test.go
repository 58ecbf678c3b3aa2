package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"nightshift/internal/logging"
	"nightshift/internal/scanner"
)

func write(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func names(root string, ds []*scanner.Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		rel, _ := filepath.Rel(root, d.Path)
		out = append(out, filepath.ToSlash(rel))
	}
	sort.Strings(out)
	return out
}

func TestScanAppliesFilters(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.txt"), 10)
	write(t, filepath.Join(root, "B.JPG"), 10)
	write(t, filepath.Join(root, "big.jpg"), 2048)
	write(t, filepath.Join(root, "notes.log"), 10)
	write(t, filepath.Join(root, "song.mp3"), 10)
	write(t, filepath.Join(root, ".hidden", "x.jpg"), 10)
	write(t, filepath.Join(root, "node_modules", "y.txt"), 10)
	write(t, filepath.Join(root, "sub", ".dot.txt"), 10)
	write(t, filepath.Join(root, "sub", "c.txt"), 10)

	filter := scanner.Filter{
		AllowedExtensions: []string{".txt", ".jpg", ".log"},
		ExcludeExtensions: []string{".log"},
		ExcludePatterns:   []string{".*", "node_modules"},
		MaxFileSize:       1024,
	}
	s := scanner.New([]string{root}, filter, logging.NewNop())
	got := names(root, s.Collect(context.Background()))
	want := []string{"B.JPG", "a.txt", "sub/c.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestEmptyAllowListAcceptsEverythingNotExcluded(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.bin"), 1)
	write(t, filepath.Join(root, "b.tmp"), 1)
	s := scanner.New([]string{root}, scanner.Filter{ExcludeExtensions: []string{".tmp"}}, nil)
	got := names(root, s.Collect(context.Background()))
	if len(got) != 1 || got[0] != "a.bin" {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestUnreadableRootIsSkipped(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.txt"), 1)
	s := scanner.New([]string{filepath.Join(root, "missing"), root}, scanner.Filter{}, logging.NewNop())
	if got := s.Collect(context.Background()); len(got) != 1 {
		t.Fatalf("expected scan to continue past missing root, got %d", len(got))
	}
}

func TestScanIsRestartableAndStopsEarly(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1.txt", "2.txt", "3.txt"} {
		write(t, filepath.Join(root, name), 1)
	}
	s := scanner.New([]string{root}, scanner.Filter{}, nil)
	seq := s.Scan(context.Background())

	count := 0
	for range seq {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("expected early stop at 2, got %d", count)
	}
	total := 0
	for range seq {
		total++
	}
	if total != 3 {
		t.Fatalf("expected full rescan of 3 files, got %d", total)
	}
}

func TestCancelledContextYieldsNothing(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.txt"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := scanner.New([]string{root}, scanner.Filter{}, nil).Collect(ctx); len(got) != 0 {
		t.Fatalf("expected no descriptors, got %d", len(got))
	}
}

func TestDescriptorCategoryAndFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Clip.MOV")
	write(t, path, 5)
	d, err := scanner.NewDescriptor(path)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	if d.Category != scanner.CategoryVideos {
		t.Fatalf("unexpected category %q", d.Category)
	}
	first, err := d.Fingerprint()
	if err != nil || first == "" {
		t.Fatalf("Fingerprint: %q %v", first, err)
	}
	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	second, _ := d.Fingerprint()
	if first != second {
		t.Fatal("fingerprint should be computed once per descriptor")
	}
}

func TestCategorize(t *testing.T) {
	cases := map[string]scanner.Category{
		"a.jpeg": scanner.CategoryImages,
		"b.FLAC": scanner.CategoryAudio,
		"c.md":   scanner.CategoryDocuments,
		"d":      scanner.CategoryOther,
		"e.zip":  scanner.CategoryOther,
	}
	for name, want := range cases {
		if got := scanner.Categorize(name); got != want {
			t.Fatalf("%s: got %q want %q", name, got, want)
		}
	}
}
