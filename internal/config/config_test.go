package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := Defaults()
	original.DownloadRoot = filepath.Join(dir, "downloads")
	original.CatalogURL = "https://talks.test/api"
	original.SkipForwardSec = 45

	if err := Save(path, original); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.DownloadRoot != original.DownloadRoot {
		t.Fatalf("DownloadRoot mismatch: got %q want %q", loaded.DownloadRoot, original.DownloadRoot)
	}
	if loaded.CatalogURL != original.CatalogURL {
		t.Fatalf("CatalogURL mismatch: got %q want %q", loaded.CatalogURL, original.CatalogURL)
	}
	if loaded.SkipForwardSec != 45 {
		t.Fatalf("SkipForwardSec mismatch: got %f", loaded.SkipForwardSec)
	}
}

func TestEnsureCreatesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	ctx := context.Background()
	downloadDir := filepath.Join(dir, "downloads")
	t.Setenv("TALKSINK_DOWNLOAD_ROOT", downloadDir)

	cfg, err := Ensure(ctx, path)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if cfg.DownloadRoot == "" {
		t.Fatalf("expected download root to be set")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
	if _, err := os.Stat(downloadDir); err != nil {
		t.Fatalf("expected download directory to be created: %v", err)
	}
}

func TestDefaultsCarryPlaybackBounds(t *testing.T) {
	cfg := Defaults()
	if cfg.SkipBackSec != 15 || cfg.SkipForwardSec != 30 {
		t.Fatalf("unexpected skip offsets: %f / %f", cfg.SkipBackSec, cfg.SkipForwardSec)
	}
	if cfg.MinPlaybackRate != 0.5 || cfg.MaxPlaybackRate != 3.0 {
		t.Fatalf("unexpected rate bounds: %f / %f", cfg.MinPlaybackRate, cfg.MaxPlaybackRate)
	}
}

func TestDefaultsExcludeVimeoAudio(t *testing.T) {
	cfg := Defaults()
	if len(cfg.ExcludedAudioHosts) != 1 || cfg.ExcludedAudioHosts[0] != "vimeo.com" {
		t.Fatalf("unexpected excluded hosts: %v", cfg.ExcludedAudioHosts)
	}
}

func TestLoadBackfillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("download_root: /tmp/talks\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DownloadRoot != "/tmp/talks" {
		t.Fatalf("DownloadRoot mismatch: %q", loaded.DownloadRoot)
	}
	if loaded.ParallelDownloads != Defaults().ParallelDownloads {
		t.Fatalf("ParallelDownloads not backfilled: %d", loaded.ParallelDownloads)
	}
	if loaded.SkipBackSec != 15 {
		t.Fatalf("SkipBackSec not backfilled: %f", loaded.SkipBackSec)
	}
}
