package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"warden/internal/pressure"
)

type Config struct {
	DiscordToken  string          `yaml:"discord_token"`
	DatabasePath  string          `yaml:"database_path"`
	LogLevel      string          `yaml:"log_level"`
	RetentionDays int             `yaml:"retention_days"`
	Health        HealthConfig    `yaml:"health"`
	Spam          pressure.Config `yaml:"spam"`
	Overrides     OverrideConfig  `yaml:"overrides"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type OverrideConfig struct {
	CacheSize  int `yaml:"cache_size"`
	TTLMinutes int `yaml:"ttl_minutes"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/warden.db",
		LogLevel:      "info",
		RetentionDays: 14,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Spam: pressure.Config{
			BasePoints:       10,
			AttachmentPoints: 4.15,
			EmbedPoints:      4.15,
			CharacterPoints:  0.00625,
			LinePoints:       0.714,
			MentionPoints:    2.5,
			DuplicatePoints:  10,
			Threshold:        60,
			DecayPerSecond:   2,
			MaxTrackedUsers:  10000,
			StateTTLMinutes:  60,
		},
		Overrides: OverrideConfig{CacheSize: 1024, TTLMinutes: 120},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Spam.Threshold = envFloat("SPAM_THRESHOLD", cfg.Spam.Threshold)
	cfg.Spam.DecayPerSecond = envFloat("SPAM_DECAY_PER_SECOND", cfg.Spam.DecayPerSecond)
	cfg.Spam.MaxTrackedUsers = envInt("SPAM_MAX_TRACKED_USERS", cfg.Spam.MaxTrackedUsers)
	cfg.Spam.StateTTLMinutes = envInt("SPAM_STATE_TTL_MINUTES", cfg.Spam.StateTTLMinutes)
	cfg.Overrides.CacheSize = envInt("OVERRIDE_CACHE_SIZE", cfg.Overrides.CacheSize)
	cfg.Overrides.TTLMinutes = envInt("OVERRIDE_TTL_MINUTES", cfg.Overrides.TTLMinutes)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
