package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/crewd.db" {
		t.Errorf("expected store path data/crewd.db, got %s", cfg.Store.Path)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Cache.ResultTTL != time.Hour {
		t.Errorf("expected result ttl 1h, got %v", cfg.Cache.ResultTTL)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("CREWD_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("CREWD_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("CREWD_WEB_PASSWORD", "secret")
	t.Setenv("CREWD_WEB_PORT", "9090")
	t.Setenv("CREWD_CACHE_ADDR", "localhost:6379")
	t.Setenv("CREWD_DEFAULT_TYPE", "writer")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Cache.Addr != "localhost:6379" {
		t.Errorf("expected cache addr localhost:6379, got %s", cfg.Cache.Addr)
	}
	if cfg.Router.DefaultType != "writer" {
		t.Errorf("expected default type writer, got %s", cfg.Router.DefaultType)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
router:
  default_type: "writer"
agents:
  writer-1:
    type: "writer"
    capabilities: ["summarize", "draft"]
    command: "/usr/local/bin/writer"
    timeout: 2m
  notifier:
    type: "notifier"
    url: "https://hooks.example.com/notify"
    secrets: ["notify_token"]
web:
  port: 3000
  enabled: false
cache:
  addr: "redis:6379"
  result_ttl: 10m
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CREWD_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("CREWD_TELEGRAM_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Router.DefaultType != "writer" {
		t.Errorf("expected default type writer, got %s", cfg.Router.DefaultType)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agent definitions, got %d", len(cfg.Agents))
	}
	writer := cfg.Agents["writer-1"]
	if writer.Type != "writer" || len(writer.Capabilities) != 2 {
		t.Errorf("unexpected writer definition: %+v", writer)
	}
	if writer.Timeout != 2*time.Minute {
		t.Errorf("expected writer timeout 2m, got %v", writer.Timeout)
	}
	if cfg.Agents["notifier"].URL != "https://hooks.example.com/notify" {
		t.Errorf("unexpected notifier url %s", cfg.Agents["notifier"].URL)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if cfg.Cache.ResultTTL != 10*time.Minute {
		t.Errorf("expected result ttl 10m, got %v", cfg.Cache.ResultTTL)
	}
}
