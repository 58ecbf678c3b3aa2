package config

const (
	defaultStateDir                  = "~/.local/share/nightshift"
	defaultLogDir                    = "~/.local/share/nightshift/logs"
	defaultAPIBind                   = "127.0.0.1:7488"
	defaultMaxFileSize               = "100MB"
	defaultMaxConcurrentUploads      = 3
	defaultUploadAttempts            = 3
	defaultAttemptBackoffSeconds     = 5
	defaultMaxRetries                = 3
	defaultBackupTime                = "00:00"
	defaultPollIntervalSeconds       = 60
	defaultRetryDrainIntervalMinutes = 5
	defaultProbeTimeoutSeconds       = 10
	defaultProbeCacheSeconds         = 300
	defaultNotifyRequestTimeout      = 10
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultLogRetentionDays          = 30
)

var (
	defaultExcludePatterns   = []string{".*", "__pycache__", "node_modules"}
	defaultExcludeExtensions = []string{".tmp", ".temp", ".log"}
	defaultProbeURLs         = []string{
		"https://www.google.com",
		"https://www.cloudflare.com",
		"https://aws.amazon.com",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Backup: Backup{
			ExcludePatterns:       append([]string(nil), defaultExcludePatterns...),
			ExcludeExtensions:     append([]string(nil), defaultExcludeExtensions...),
			MaxFileSize:           defaultMaxFileSize,
			VerifyUploads:         true,
			MaxConcurrentUploads:  defaultMaxConcurrentUploads,
			UploadAttempts:        defaultUploadAttempts,
			AttemptBackoffSeconds: defaultAttemptBackoffSeconds,
			MaxRetries:            defaultMaxRetries,
		},
		Schedule: Schedule{
			BackupTime:                defaultBackupTime,
			PollIntervalSeconds:       defaultPollIntervalSeconds,
			RetryDrainIntervalMinutes: defaultRetryDrainIntervalMinutes,
		},
		Network: Network{
			ProbeURLs:           append([]string(nil), defaultProbeURLs...),
			ProbeTimeoutSeconds: defaultProbeTimeoutSeconds,
			ProbeCacheSeconds:   defaultProbeCacheSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunSummary:     true,
			Errors:         true,
			RetryExhausted: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
