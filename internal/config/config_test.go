package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidkeep/internal/config"
)

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "vidkeep")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.LibraryDir != filepath.Join(tempHome, "videos", "vidkeep") {
		t.Fatalf("unexpected library dir: %q", cfg.Paths.LibraryDir)
	}
	if cfg.Workers.DownloadConcurrency != 3 {
		t.Fatalf("unexpected download concurrency: %d", cfg.Workers.DownloadConcurrency)
	}
	if cfg.Subscriptions.DefaultCheckFrequency != "0 * * * *" {
		t.Fatalf("unexpected default check frequency: %q", cfg.Subscriptions.DefaultCheckFrequency)
	}
	if cfg.Source.BackoffMaxSeconds < cfg.Source.BackoffBaseSeconds {
		t.Fatal("backoff max must not be below base")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "vidkeep.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadParsesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := strings.Join([]string{
		"[paths]",
		`data_dir = "` + filepath.Join(dir, "data") + `"`,
		`library_dir = "` + filepath.Join(dir, "library") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
		"[workers]",
		"download_concurrency = 5",
		"[downloads]",
		`default_quality = "720p"`,
		`subtitle_languages = [" EN ", "fr", ""]`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Workers.DownloadConcurrency != 5 {
		t.Fatalf("override not applied: %d", cfg.Workers.DownloadConcurrency)
	}
	if cfg.Downloads.DefaultQuality != "720p" {
		t.Fatalf("unexpected quality: %q", cfg.Downloads.DefaultQuality)
	}
	want := []string{"en", "fr"}
	if len(cfg.Downloads.SubtitleLanguages) != len(want) {
		t.Fatalf("unexpected subtitle languages: %v", cfg.Downloads.SubtitleLanguages)
	}
	for i, lang := range want {
		if cfg.Downloads.SubtitleLanguages[i] != lang {
			t.Fatalf("unexpected subtitle languages: %v", cfg.Downloads.SubtitleLanguages)
		}
	}
}

func TestLoadRejectsInvalidLogging(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[logging]\nformat = \"xml\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unsupported log format")
	}
}

func TestValidateCron(t *testing.T) {
	if err := config.ValidateCron("0 * * * *"); err != nil {
		t.Fatalf("expected valid cron, got %v", err)
	}
	if err := config.ValidateCron("not a cron"); err == nil {
		t.Fatal("expected error for bad cron expression")
	}
	if err := config.ValidateCron("  "); err == nil {
		t.Fatal("expected error for empty cron expression")
	}
}
