package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSource()
	c.normalizeWorkers()
	c.normalizeSubscriptions()
	c.normalizeDownloads()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	return nil
}

func (c *Config) normalizeSource() {
	c.Source.YtdlpBinary = strings.TrimSpace(c.Source.YtdlpBinary)
	if c.Source.YtdlpBinary == "" {
		c.Source.YtdlpBinary = defaultYtdlpBinary
	}
	if c.Source.ListTimeout <= 0 {
		c.Source.ListTimeout = defaultListTimeout
	}
	if c.Source.FetchTimeout <= 0 {
		c.Source.FetchTimeout = defaultFetchTimeout
	}
	if c.Source.MinRequestInterval < 0 {
		c.Source.MinRequestInterval = 0
	}
	if c.Source.BackoffThreshold <= 0 {
		c.Source.BackoffThreshold = defaultBackoffThresh
	}
	if c.Source.BackoffBaseSeconds <= 0 {
		c.Source.BackoffBaseSeconds = defaultBackoffBase
	}
	if c.Source.BackoffMaxSeconds < c.Source.BackoffBaseSeconds {
		c.Source.BackoffMaxSeconds = defaultBackoffMax
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.DownloadConcurrency <= 0 {
		c.Workers.DownloadConcurrency = defaultDownloadPool
	}
	if c.Workers.DiscoveryConcurrency <= 0 {
		c.Workers.DiscoveryConcurrency = defaultDiscoveryPool
	}
	if c.Workers.QueuePollInterval <= 0 {
		c.Workers.QueuePollInterval = defaultQueuePoll
	}
	if c.Workers.ErrorRetryInterval <= 0 {
		c.Workers.ErrorRetryInterval = defaultErrorRetry
	}
	if c.Workers.ProgressUpdateInterval <= 0 {
		c.Workers.ProgressUpdateInterval = defaultProgressUpdate
	}
}

func (c *Config) normalizeSubscriptions() {
	c.Subscriptions.DefaultCheckFrequency = strings.TrimSpace(c.Subscriptions.DefaultCheckFrequency)
	if c.Subscriptions.DefaultCheckFrequency == "" {
		c.Subscriptions.DefaultCheckFrequency = defaultCheckFrequency
	}
	if c.Subscriptions.DefaultMaxItems <= 0 {
		c.Subscriptions.DefaultMaxItems = defaultMaxItems
	}
}

func (c *Config) normalizeDownloads() {
	c.Downloads.DefaultQuality = strings.TrimSpace(c.Downloads.DefaultQuality)
	if c.Downloads.DefaultQuality == "" {
		c.Downloads.DefaultQuality = defaultQuality
	}
	languages := make([]string, 0, len(c.Downloads.SubtitleLanguages))
	for _, lang := range c.Downloads.SubtitleLanguages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang != "" {
			languages = append(languages, lang)
		}
	}
	c.Downloads.SubtitleLanguages = languages
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
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultRetentionDays
	}
}
