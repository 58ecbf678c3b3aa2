package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"nightshift/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a finalized config seeded with unique temp directories
// per test: a state dir, a log dir, one source root and one local
// destination. Options run before validation.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Backup.SourceRoots = []string{filepath.Join(base, "source")}
	cfgVal.Backup.AttemptBackoffSeconds = 0
	cfgVal.Destinations = []config.Destination{{
		ID:       1,
		Name:     "local",
		Provider: config.ProviderLocal,
		Path:     filepath.Join(base, "dest"),
	}}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	for _, root := range builder.cfg.Backup.SourceRoots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			t.Fatalf("mkdir source root: %v", err)
		}
	}
	if err := builder.cfg.Finalize(); err != nil {
		t.Fatalf("finalize test config: %v", err)
	}
	return builder.cfg
}

// WithConfig applies an arbitrary mutation to the test config.
func WithConfig(fn func(cfg *config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// WithDestinations replaces the configured destinations.
func WithDestinations(dests ...config.Destination) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Destinations = dests
	}
}

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backup.MaxRetries = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// SourceDir returns the first source root of the generated config.
func SourceDir(cfg *config.Config) string {
	return cfg.Backup.SourceRoots[0]
}
