package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Provider names accepted in destinations[].provider.
const (
	ProviderMinIO = "minio"
	ProviderS3    = "s3"
	ProviderLocal = "local"
)

const maxConcurrentUploadsCeiling = 16

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateDestinations(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackup() error {
	if len(c.Backup.SourceRoots) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/nightshift/config.toml"
		}
		return fmt.Errorf("backup.source_roots must list at least one directory; edit %s (create with 'nightshift config init')", defaultPath)
	}
	if c.Backup.maxFileSizeBytes <= 0 {
		return errors.New("backup.max_file_size must be positive")
	}
	if c.Backup.MaxConcurrentUploads <= 0 || c.Backup.MaxConcurrentUploads > maxConcurrentUploadsCeiling {
		return fmt.Errorf("backup.max_concurrent_uploads must be between 1 and %d", maxConcurrentUploadsCeiling)
	}
	if c.Backup.UploadAttempts <= 0 {
		return errors.New("backup.upload_attempts must be positive")
	}
	if c.Backup.AttemptBackoffSeconds < 0 {
		return errors.New("backup.attempt_backoff_seconds must not be negative")
	}
	if c.Backup.MaxRetries <= 0 {
		return errors.New("backup.max_retries must be positive")
	}
	for _, ext := range c.Backup.AllowedExtensions {
		if strings.ContainsAny(ext, `/\`) || ext == "." {
			return fmt.Errorf("backup.allowed_extensions contains invalid extension %q", ext)
		}
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.PollIntervalSeconds <= 0 {
		return errors.New("schedule.poll_interval_seconds must be positive")
	}
	if c.Schedule.RetryDrainIntervalMinutes <= 0 {
		return errors.New("schedule.retry_drain_interval_minutes must be positive")
	}
	if c.Schedule.RetryDrainIntervalMinutes*60 < c.Schedule.PollIntervalSeconds {
		return errors.New("schedule.retry_drain_interval_minutes must not be shorter than the poll interval")
	}
	return nil
}

func (c *Config) validateNetwork() error {
	if len(c.Network.ProbeURLs) == 0 {
		return errors.New("network.probe_urls must list at least one URL")
	}
	for _, raw := range c.Network.ProbeURLs {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("network.probe_urls contains invalid URL %q", raw)
		}
	}
	if c.Network.ProbeTimeoutSeconds <= 0 {
		return errors.New("network.probe_timeout_seconds must be positive")
	}
	if c.Network.ProbeCacheSeconds < 0 {
		return errors.New("network.probe_cache_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateDestinations() error {
	if len(c.Destinations) == 0 {
		return errors.New("at least one [[destinations]] entry is required")
	}
	ids := make(map[int]struct{}, len(c.Destinations))
	for i, dest := range c.Destinations {
		prefix := fmt.Sprintf("destinations[%d]", i)
		if dest.ID < 0 {
			return fmt.Errorf("%s.id must not be negative", prefix)
		}
		if _, ok := ids[dest.ID]; ok {
			return fmt.Errorf("%s.id %d is not unique", prefix, dest.ID)
		}
		ids[dest.ID] = struct{}{}

		switch dest.Provider {
		case ProviderMinIO, ProviderS3:
			if dest.Bucket == "" {
				return fmt.Errorf("%s.bucket must be set for provider %q", prefix, dest.Provider)
			}
			if dest.Provider == ProviderMinIO && dest.Endpoint == "" {
				return fmt.Errorf("%s.endpoint must be set for provider %q", prefix, dest.Provider)
			}
			if dest.QuotaBytes() <= 0 {
				return fmt.Errorf("%s.quota must be set for provider %q", prefix, dest.Provider)
			}
		case ProviderLocal:
			if dest.Path == "" {
				return fmt.Errorf("%s.path must be set for provider %q", prefix, dest.Provider)
			}
		case "":
			return fmt.Errorf("%s.provider must be set", prefix)
		default:
			return fmt.Errorf("%s.provider %q is not one of minio, s3, local", prefix, dest.Provider)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}
