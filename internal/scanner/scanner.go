package scanner

import (
	"context"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"nightshift/internal/logging"
)

// Scanner walks source roots. The zero value is not usable; use New.
type Scanner struct {
	roots  []string
	filter Filter
	logger *slog.Logger
}

// New returns a Scanner over roots.
func New(roots []string, filter Filter, logger *slog.Logger) *Scanner {
	return &Scanner{
		roots:  append([]string(nil), roots...),
		filter: filter,
		logger: logging.NewComponentLogger(logger, "scanner"),
	}
}

// Scan returns a lazy sequence of candidates. Each range over the sequence
// walks the roots again, so it is restartable. Iteration stops early when
// ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) iter.Seq[*Descriptor] {
	return func(yield func(*Descriptor) bool) {
		for _, root := range s.roots {
			if ctx.Err() != nil {
				return
			}
			if !s.walkRoot(ctx, root, yield) {
				return
			}
		}
	}
}

// Collect drains Scan into a slice.
func (s *Scanner) Collect(ctx context.Context) []*Descriptor {
	var out []*Descriptor
	for d := range s.Scan(ctx) {
		out = append(out, d)
	}
	return out
}

func (s *Scanner) walkRoot(ctx context.Context, root string, yield func(*Descriptor) bool) bool {
	info, err := os.Stat(root)
	if err != nil {
		logging.WarnWithContext(s.logger, "source root unreadable; skipping", "scan_root_unreadable",
			logging.String("root", root),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the path exists and is readable"),
			logging.String(logging.FieldImpact, "files under this root are not backed up this run"),
		)
		return true
	}
	if !info.IsDir() {
		if d, ok := s.candidate(root); ok {
			return yield(d)
		}
		return true
	}

	keepGoing := true
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Debug("skipping unreadable entry", logging.String(logging.FieldPath, path), logging.Error(err))
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if s.filter.excludedPath(filepath.ToSlash(rel)) {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		d, ok := s.candidate(path)
		if !ok {
			return nil
		}
		if !yield(d) {
			keepGoing = false
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		logging.WarnWithContext(s.logger, "source root walk failed; skipping", "scan_root_unreadable",
			logging.String("root", root),
			logging.Error(walkErr),
			logging.String(logging.FieldImpact, "files under this root are not backed up this run"),
		)
	}
	return keepGoing
}

func (s *Scanner) candidate(path string) (*Descriptor, bool) {
	if !s.filter.acceptsExtension(path) {
		return nil, false
	}
	d, err := NewDescriptor(path)
	if err != nil {
		s.logger.Debug("candidate vanished during scan", logging.String(logging.FieldPath, path), logging.Error(err))
		return nil, false
	}
	if !s.filter.acceptsSize(d.Size) {
		s.logger.Debug("file above size limit; skipping",
			logging.String(logging.FieldPath, path),
			logging.Bytes("size", d.Size),
		)
		return nil, false
	}
	return d, true
}
