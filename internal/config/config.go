package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"nightshift/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state directories and the API bind address.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Backup contains the scan filters and the per-file upload policy.
type Backup struct {
	SourceRoots           []string `toml:"source_roots"`
	AllowedExtensions     []string `toml:"allowed_extensions"`
	ExcludePatterns       []string `toml:"exclude_patterns"`
	ExcludeExtensions     []string `toml:"exclude_extensions"`
	MaxFileSize           string   `toml:"max_file_size"`
	AutoDelete            bool     `toml:"auto_delete"`
	VerifyUploads         bool     `toml:"verify_uploads"`
	MaxConcurrentUploads  int      `toml:"max_concurrent_uploads"`
	UploadAttempts        int      `toml:"upload_attempts"`
	AttemptBackoffSeconds int      `toml:"attempt_backoff_seconds"`
	MaxRetries            int      `toml:"max_retries"`

	maxFileSizeBytes int64
}

// MaxFileSizeBytes returns the parsed max_file_size.
func (b Backup) MaxFileSizeBytes() int64 {
	return b.maxFileSizeBytes
}

// AttemptBackoff returns the wait between in-run upload attempts.
func (b Backup) AttemptBackoff() time.Duration {
	return time.Duration(b.AttemptBackoffSeconds) * time.Second
}

// Schedule contains the daily trigger and polling cadences.
type Schedule struct {
	BackupTime                string `toml:"backup_time"`
	PollIntervalSeconds       int    `toml:"poll_interval_seconds"`
	RetryDrainIntervalMinutes int    `toml:"retry_drain_interval_minutes"`

	triggerHour   int
	triggerMinute int
}

// TriggerClock returns the parsed backup_time as hour and minute.
func (s Schedule) TriggerClock() (int, int) {
	return s.triggerHour, s.triggerMinute
}

// PollInterval returns the scheduler tick interval.
func (s Schedule) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// RetryDrainInterval returns the retry-queue drain cadence.
func (s Schedule) RetryDrainInterval() time.Duration {
	return time.Duration(s.RetryDrainIntervalMinutes) * time.Minute
}

// Network contains the reachability probe settings.
type Network struct {
	ProbeURLs           []string `toml:"probe_urls"`
	ProbeTimeoutSeconds int      `toml:"probe_timeout_seconds"`
	ProbeCacheSeconds   int      `toml:"probe_cache_seconds"`
}

// Destination describes one capacity-bounded storage account.
type Destination struct {
	ID           int    `toml:"id"`
	Name         string `toml:"name"`
	Provider     string `toml:"provider"`
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	SecretKeyEnv string `toml:"secret_key_env"`
	UseSSL       bool   `toml:"use_ssl"`
	Quota        string `toml:"quota"`
	Path         string `toml:"path"`

	quotaBytes int64
}

// QuotaBytes returns the parsed quota, or 0 when none was configured.
func (d Destination) QuotaBytes() int64 {
	return d.quotaBytes
}

// Label returns the display name of the destination.
func (d Destination) Label() string {
	if name := strings.TrimSpace(d.Name); name != "" {
		return name
	}
	return fmt.Sprintf("destination-%d", d.ID)
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunSummary     bool   `toml:"run_summary"`
	Errors         bool   `toml:"errors"`
	RetryExhausted bool   `toml:"retry_exhausted"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes per-process log files older than this many days
	// when the daemon starts; 0 keeps every file.
	RetentionDays int `toml:"retention_days"`
}

// Retention returns the log file retention window, or 0 when disabled.
func (l Logging) Retention() time.Duration {
	return time.Duration(l.RetentionDays) * 24 * time.Hour
}

// Config encapsulates all configuration values for nightshift.
//
// Configuration sections by subsystem:
//   - Paths: ledger/state directory, logs and API bind address
//   - Backup: scan filters and per-file upload policy
//   - Schedule: daily trigger time and polling cadences
//   - Network: reachability probe
//   - Destinations: storage accounts competing for file placement
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backup        Backup        `toml:"backup"`
	Schedule      Schedule      `toml:"schedule"`
	Network       Network       `toml:"network"`
	Destinations  []Destination `toml:"destinations"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/nightshift/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and sizes parsed. Errors wrap services.ErrConfiguration.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, configError(err)
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, configError(fmt.Errorf("open config: %w", err))
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, configError(fmt.Errorf("parse config: %w", err))
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Finalize normalizes and validates a config built in code.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return configError(err)
	}
	if err := c.Validate(); err != nil {
		return configError(err)
	}
	return nil
}

func configError(err error) error {
	if err == nil || errors.Is(err, services.ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %w", services.ErrConfiguration, err)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("nightshift.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "nightshift.lock")
}

// CurrentLogPath returns the link to the running daemon's log file.
func (c *Config) CurrentLogPath() string {
	return filepath.Join(c.Paths.LogDir, "nightshift.log")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "nightshift.pid")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "nightshift.sock")
}

// DestinationByID returns the configured destination with the given id.
func (c *Config) DestinationByID(id int) (Destination, bool) {
	for _, dest := range c.Destinations {
		if dest.ID == id {
			return dest, true
		}
	}
	return Destination{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
