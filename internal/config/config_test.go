package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithEnvToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token-123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "token-123" {
		t.Fatalf("token not applied: %q", cfg.DiscordToken)
	}
	if cfg.Spam.Threshold != 60 || cfg.Spam.DecayPerSecond != 2 {
		t.Fatalf("unexpected spam defaults: %+v", cfg.Spam)
	}
	if cfg.Overrides.CacheSize != 1024 || cfg.Overrides.TTLMinutes != 120 {
		t.Fatalf("unexpected override defaults: %+v", cfg.Overrides)
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("log_level: debug\nspam:\n  threshold: 80\noverrides:\n  cache_size: 32\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token-123")
	t.Setenv("SPAM_THRESHOLD", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("yaml log level not applied: %q", cfg.LogLevel)
	}
	if cfg.Overrides.CacheSize != 32 {
		t.Fatalf("yaml cache size not applied: %d", cfg.Overrides.CacheSize)
	}
	// Environment wins over the file.
	if cfg.Spam.Threshold != 90 {
		t.Fatalf("env threshold not applied: %v", cfg.Spam.Threshold)
	}
}

func TestBuildLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger, err := BuildLogger(level)
		if err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
		_ = logger.Sync()
	}
}
