package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.DownloadDir == "" || cfg.DataDir == "" {
		t.Fatalf("default config invalid: %+v", cfg)
	}
	if cfg.Workers < 1 || cfg.QueueCapacity < 1 {
		t.Fatalf("default concurrency invalid: %+v", cfg)
	}
	if cfg.StallThreshold() != 20*time.Second {
		t.Fatalf("default stall threshold: %v", cfg.StallThreshold())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("not_exists.yml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Workers != Default().Workers {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	content := []byte(`
port: 9090
download_dir: /srv/media
workers: 2
queue_capacity: 10
stall_threshold_seconds: 30
engine:
  player_clients: [" WEB ", "android", "web"]
  cookies_file: /etc/cookies.txt
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DownloadDir != "/srv/media" || cfg.Workers != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.StallThreshold() != 30*time.Second {
		t.Fatalf("stall threshold: %v", cfg.StallThreshold())
	}
	if len(cfg.Engine.PlayerClients) != 2 || cfg.Engine.PlayerClients[0] != "web" {
		t.Fatalf("player clients not normalized: %v", cfg.Engine.PlayerClients)
	}
	if cfg.Engine.CookiesFile != "/etc/cookies.txt" {
		t.Fatalf("cookies file lost: %+v", cfg.Engine)
	}
	// untouched fields keep defaults
	if cfg.Engine.Retries != 20 || cfg.DefaultQuality != "Best" {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadRejectsInvalidWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte("workers: 0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

func TestLoadRejectsInvalidQueueCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte("queue_capacity: -5\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative queue capacity")
	}
}
