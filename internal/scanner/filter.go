package scanner

import (
	"path/filepath"
	"strings"

	"nightshift/internal/config"
)

// Filter holds the scan filters. An empty AllowedExtensions accepts every
// extension not listed in ExcludeExtensions.
type Filter struct {
	AllowedExtensions []string
	ExcludeExtensions []string
	ExcludePatterns   []string
	MaxFileSize       int64
}

// FilterFromConfig builds a Filter from the backup section.
func FilterFromConfig(cfg config.Backup) Filter {
	return Filter{
		AllowedExtensions: cfg.AllowedExtensions,
		ExcludeExtensions: cfg.ExcludeExtensions,
		ExcludePatterns:   cfg.ExcludePatterns,
		MaxFileSize:       cfg.MaxFileSizeBytes(),
	}
}

// excludedPath reports whether rel (slash separated, relative to a root)
// matches an exclude pattern. Glob patterns match single path segments;
// plain patterns match as substrings.
func (f Filter) excludedPath(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, pattern := range f.ExcludePatterns {
		if strings.ContainsAny(pattern, "*?[") {
			for _, segment := range segments {
				if ok, _ := filepath.Match(pattern, segment); ok {
					return true
				}
			}
			continue
		}
		if strings.Contains(rel, pattern) {
			return true
		}
	}
	return false
}

func (f Filter) acceptsExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, excluded := range f.ExcludeExtensions {
		if ext == excluded {
			return false
		}
	}
	if len(f.AllowedExtensions) == 0 {
		return true
	}
	for _, allowed := range f.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (f Filter) acceptsSize(size int64) bool {
	return f.MaxFileSize <= 0 || size <= f.MaxFileSize
}
