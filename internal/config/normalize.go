package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBackup(); err != nil {
		return err
	}
	if err := c.normalizeSchedule(); err != nil {
		return err
	}
	c.normalizeNetwork()
	if err := c.normalizeDestinations(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("NIGHTSHIFT_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeBackup() error {
	roots := make([]string, 0, len(c.Backup.SourceRoots))
	seen := make(map[string]struct{}, len(c.Backup.SourceRoots))
	for _, root := range c.Backup.SourceRoots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(root))
		if err != nil {
			return fmt.Errorf("backup.source_roots: %w", err)
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		roots = append(roots, expanded)
	}
	c.Backup.SourceRoots = roots
	c.Backup.AllowedExtensions = normalizeExtensions(c.Backup.AllowedExtensions)
	c.Backup.ExcludeExtensions = normalizeExtensions(c.Backup.ExcludeExtensions)
	c.Backup.ExcludePatterns = trimNonEmpty(c.Backup.ExcludePatterns)

	c.Backup.MaxFileSize = strings.TrimSpace(c.Backup.MaxFileSize)
	if c.Backup.MaxFileSize == "" {
		c.Backup.MaxFileSize = defaultMaxFileSize
	}
	size, err := humanize.ParseBytes(c.Backup.MaxFileSize)
	if err != nil {
		return fmt.Errorf("backup.max_file_size: %w", err)
	}
	c.Backup.maxFileSizeBytes = int64(size)
	return nil
}

func (c *Config) normalizeSchedule() error {
	c.Schedule.BackupTime = strings.TrimSpace(c.Schedule.BackupTime)
	if c.Schedule.BackupTime == "" {
		c.Schedule.BackupTime = defaultBackupTime
	}
	parsed, err := time.Parse("15:04", c.Schedule.BackupTime)
	if err != nil {
		return fmt.Errorf("schedule.backup_time must be HH:MM, got %q", c.Schedule.BackupTime)
	}
	c.Schedule.triggerHour = parsed.Hour()
	c.Schedule.triggerMinute = parsed.Minute()
	return nil
}

func (c *Config) normalizeNetwork() {
	c.Network.ProbeURLs = trimNonEmpty(c.Network.ProbeURLs)
}

func (c *Config) normalizeDestinations() error {
	for i := range c.Destinations {
		dest := &c.Destinations[i]
		dest.Name = strings.TrimSpace(dest.Name)
		dest.Provider = strings.ToLower(strings.TrimSpace(dest.Provider))
		dest.Endpoint = strings.TrimSpace(dest.Endpoint)
		dest.Region = strings.TrimSpace(dest.Region)
		dest.Bucket = strings.TrimSpace(dest.Bucket)
		dest.Prefix = strings.Trim(strings.TrimSpace(dest.Prefix), "/")
		dest.AccessKey = strings.TrimSpace(dest.AccessKey)
		if dest.SecretKey == "" && strings.TrimSpace(dest.SecretKeyEnv) != "" {
			dest.SecretKey = os.Getenv(strings.TrimSpace(dest.SecretKeyEnv))
		}
		if dest.Path != "" {
			expanded, err := expandPath(strings.TrimSpace(dest.Path))
			if err != nil {
				return fmt.Errorf("destinations[%d].path: %w", i, err)
			}
			dest.Path = expanded
		}
		dest.Quota = strings.TrimSpace(dest.Quota)
		dest.quotaBytes = 0
		if dest.Quota != "" {
			quota, err := humanize.ParseBytes(dest.Quota)
			if err != nil {
				return fmt.Errorf("destinations[%d].quota: %w", i, err)
			}
			dest.quotaBytes = int64(quota)
		}
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NIGHTSHIFT_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		ext := strings.ToLower(strings.TrimSpace(value))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
