package config

const (
	defaultDataDir        = "~/.local/share/vidkeep"
	defaultLibraryDir     = "~/videos/vidkeep"
	defaultLogDir         = "~/.local/share/vidkeep/logs"
	defaultAPIBind        = "127.0.0.1:7823"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultRetentionDays  = 60
	defaultYtdlpBinary    = "yt-dlp"
	defaultListTimeout    = 120
	defaultFetchTimeout   = 7200
	defaultMinRequestGap  = 1.5
	defaultBackoffThresh  = 3
	defaultBackoffBase    = 30
	defaultBackoffMax     = 3600
	defaultDownloadPool   = 3
	defaultDiscoveryPool  = 1
	defaultQueuePoll      = 5
	defaultErrorRetry     = 10
	defaultProgressUpdate = 1
	defaultCheckFrequency = "0 * * * *"
	defaultMaxItems       = 20
	defaultQuality        = "1080p"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Source: Source{
			YtdlpBinary:        defaultYtdlpBinary,
			ListTimeout:        defaultListTimeout,
			FetchTimeout:       defaultFetchTimeout,
			MinRequestInterval: defaultMinRequestGap,
			BackoffThreshold:   defaultBackoffThresh,
			BackoffBaseSeconds: defaultBackoffBase,
			BackoffMaxSeconds:  defaultBackoffMax,
		},
		Workers: Workers{
			DownloadConcurrency:    defaultDownloadPool,
			DiscoveryConcurrency:   defaultDiscoveryPool,
			QueuePollInterval:      defaultQueuePoll,
			ErrorRetryInterval:     defaultErrorRetry,
			ProgressUpdateInterval: defaultProgressUpdate,
		},
		Subscriptions: Subscriptions{
			DefaultCheckFrequency: defaultCheckFrequency,
			DefaultMaxItems:       defaultMaxItems,
		},
		Downloads: Downloads{
			DefaultQuality:    defaultQuality,
			SubtitleLanguages: []string{"en"},
			EmbedSubtitles:    true,
			WriteThumbnails:   true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}
