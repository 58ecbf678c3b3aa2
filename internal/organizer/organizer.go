package organizer

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"time"

	"nightshift/internal/scanner"
)

// DateLayout formats run dates in folder paths and ledger rows.
const DateLayout = "2006-01-02"

// RunDate formats t as a calendar date in t's location.
func RunDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DestinationPath returns "runDate/category".
func DestinationPath(category scanner.Category, runDate time.Time) string {
	if category == "" {
		category = scanner.CategoryOther
	}
	return RunDate(runDate) + "/" + string(category)
}

// Segments splits a destination path into the folder segments handed to
// storage clients.
func Segments(destination string) []string {
	parts := strings.Split(strings.Trim(destination, "/"), "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RemoteName returns the object name for a source path: the base name
// prefixed with a short stable tag of the parent directory.
func RemoteName(sourcePath string) string {
	dir := filepath.Dir(filepath.Clean(sourcePath))
	h := fnv.New32a()
	_, _ = h.Write([]byte(dir))
	return fmt.Sprintf("%08x_%s", h.Sum32(), sanitize(filepath.Base(sourcePath)))
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
}
