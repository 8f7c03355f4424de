package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulseboard.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("got addr %s, want :8080", cfg.Server.Addr)
	}
	if cfg.GitLab.SyncStaleness.Duration != 15*time.Minute {
		t.Errorf("got staleness %v, want 15m", cfg.GitLab.SyncStaleness.Duration)
	}
	if cfg.GitLab.SyncBatchSize != 100 {
		t.Errorf("got batch size %d, want 100", cfg.GitLab.SyncBatchSize)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9090"
public_url = "https://pulse.example.com"

[gitlab]
link_pattern = 'TASK-(\d+)'
sync_interval = "2m"
sync_staleness = "30m"
sync_batch_size = 25

[logging]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("got addr %s, want :9090", cfg.Server.Addr)
	}
	if cfg.GitLab.SyncInterval.Duration != 2*time.Minute {
		t.Errorf("got interval %v, want 2m", cfg.GitLab.SyncInterval.Duration)
	}
	if cfg.GitLab.SyncBatchSize != 25 {
		t.Errorf("got batch size %d, want 25", cfg.GitLab.SyncBatchSize)
	}
	if cfg.WebhookBaseURL() != "https://pulse.example.com/webhooks" {
		t.Errorf("got webhook base %s", cfg.WebhookBaseURL())
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9090"
`)
	t.Setenv("PULSEBOARD_ADDR", ":7070")
	t.Setenv("PULSEBOARD_SYNC_STALENESS", "45m")
	t.Setenv("PULSEBOARD_SYNC_BATCH_SIZE", "10")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("env override lost: got addr %s", cfg.Server.Addr)
	}
	if cfg.GitLab.SyncStaleness.Duration != 45*time.Minute {
		t.Errorf("got staleness %v, want 45m", cfg.GitLab.SyncStaleness.Duration)
	}
	if cfg.GitLab.SyncBatchSize != 10 {
		t.Errorf("got batch size %d, want 10", cfg.GitLab.SyncBatchSize)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
[gitlab]
sync_interval = "not-a-duration"
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}

	path = writeConfig(t, `
[gitlab]
sync_batch_size = -1
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for negative batch size")
	}
}
