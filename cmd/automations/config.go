package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all automations server configuration.
// Priority: env vars > settings.yaml > defaults.
type Config struct {
	DBPath               string        `yaml:"db_path"`
	LegacyDBPath         string        `yaml:"legacy_db_path"`
	LogLevel             string        `yaml:"log_level"`
	PoolSize             int           `yaml:"pool_size"`
	MaxAttempts          int           `yaml:"max_attempts"`
	ConditionEngine      string        `yaml:"condition_engine"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	ScheduleInterval     time.Duration `yaml:"schedule_interval"`
	AllowPrivateWebhooks bool          `yaml:"allow_private_webhooks"`
	WebhookTimeout       time.Duration `yaml:"webhook_timeout"`
	MCP                  bool          `yaml:"mcp"`
	HTTPAddr             string        `yaml:"http_addr"` // empty disables the HTTP API
}

func defaultConfig() Config {
	return Config{
		DBPath:           filepath.Join(automationsDir(), "automations.db"),
		LogLevel:         "info",
		PoolSize:         10,
		MaxAttempts:      10,
		ConditionEngine:  "expr",
		SweepInterval:    time.Minute,
		ScheduleInterval: time.Minute,
		WebhookTimeout:   30 * time.Second,
	}
}

func automationsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".automations"
	}
	return filepath.Join(home, ".automations")
}

func settingsPath() string {
	return filepath.Join(automationsDir(), "settings.yaml")
}

// loadConfig layers defaults, the settings file and the environment. An
// empty path means the default settings file, which may be missing; an
// explicit path must exist.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from AUTOMATIONS_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("AUTOMATIONS_DB_PATH", &cfg.DBPath)
	str("AUTOMATIONS_LEGACY_DB_PATH", &cfg.LegacyDBPath)
	str("AUTOMATIONS_LOG_LEVEL", &cfg.LogLevel)
	str("AUTOMATIONS_CONDITION_ENGINE", &cfg.ConditionEngine)
	str("AUTOMATIONS_HTTP_ADDR", &cfg.HTTPAddr)

	ints := map[string]*int{
		"AUTOMATIONS_POOL_SIZE":    &cfg.PoolSize,
		"AUTOMATIONS_MAX_ATTEMPTS": &cfg.MaxAttempts,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"AUTOMATIONS_SWEEP_INTERVAL":    &cfg.SweepInterval,
		"AUTOMATIONS_SCHEDULE_INTERVAL": &cfg.ScheduleInterval,
		"AUTOMATIONS_WEBHOOK_TIMEOUT":   &cfg.WebhookTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"AUTOMATIONS_ALLOW_PRIVATE_WEBHOOKS": &cfg.AllowPrivateWebhooks,
		"AUTOMATIONS_MCP":                    &cfg.MCP,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	return nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	restart := []struct {
		name    string
		changed bool
	}{
		{"db_path", old.DBPath != new.DBPath},
		{"legacy_db_path", old.LegacyDBPath != new.LegacyDBPath},
		{"pool_size", old.PoolSize != new.PoolSize},
		{"max_attempts", old.MaxAttempts != new.MaxAttempts},
		{"condition_engine", old.ConditionEngine != new.ConditionEngine},
		{"sweep_interval", old.SweepInterval != new.SweepInterval},
		{"schedule_interval", old.ScheduleInterval != new.ScheduleInterval},
		{"allow_private_webhooks", old.AllowPrivateWebhooks != new.AllowPrivateWebhooks},
		{"webhook_timeout", old.WebhookTimeout != new.WebhookTimeout},
		{"mcp", old.MCP != new.MCP},
		{"http_addr", old.HTTPAddr != new.HTTPAddr},
	}
	for _, f := range restart {
		if f.changed {
			d.RestartNeeded = append(d.RestartNeeded, f.name)
		}
	}
	return d
}

// dsn turns a database path into a libSQL file URI, creating its directory.
func dsn(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return "file:" + path, nil
}
