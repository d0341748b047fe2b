// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"vidkeep/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LibraryDir = filepath.Join(base, "library")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	// Tight polling keeps daemon-level tests fast.
	cfg.Workers.QueuePollInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithDownloadConcurrency overrides the download worker count.
func WithDownloadConcurrency(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers.DownloadConcurrency = n
	}
}

// WithQuality overrides the default download quality.
func WithQuality(quality string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Downloads.DefaultQuality = quality
	}
}
