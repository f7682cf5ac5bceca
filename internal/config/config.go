// Package config loads craftchat configuration from the environment and
// an optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Backend endpoints
	ServerURL string `yaml:"server_url"`

	// Credential (inline token wins over token file)
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// Socket behavior
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Logging
	LogFile      string     `yaml:"log_file"`
	LogLevelName string     `yaml:"log_level"`
	LogLevel     slog.Level `yaml:"-"`
}

// Defaults mirror the reference clients: a fixed 3s reconnect delay and
// 10s heartbeats in both directions. Setting ReconnectMaxDelay above the
// base delay turns on exponential backoff up to that ceiling.
const (
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// Load reads configuration from the optional config file, then overlays
// environment variables.
func Load() Config {
	cfg := Config{
		ReconnectDelay:    DefaultReconnectDelay,
		ReconnectMaxDelay: DefaultReconnectDelay,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LogFile:           filepath.Join(os.TempDir(), "craftchat.log"),
		LogLevelName:      "INFO",
	}

	if path := configFilePath(); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ignoring config file %s: %v\n", path, err)
		}
	}

	cfg.ServerURL = getEnv("CRAFTCHAT_SERVER_URL", cfg.ServerURL)
	cfg.Token = getEnv("CRAFTCHAT_TOKEN", cfg.Token)
	cfg.TokenFile = getEnv("CRAFTCHAT_TOKEN_FILE", cfg.TokenFile)
	cfg.LogFile = getEnv("CRAFTCHAT_LOG_FILE", cfg.LogFile)
	cfg.LogLevelName = getEnv("CRAFTCHAT_LOG_LEVEL", cfg.LogLevelName)

	if d, ok := getDuration("CRAFTCHAT_RECONNECT_DELAY"); ok {
		cfg.ReconnectDelay = d
		if cfg.ReconnectMaxDelay < d {
			cfg.ReconnectMaxDelay = d
		}
	}
	if d, ok := getDuration("CRAFTCHAT_RECONNECT_MAX_DELAY"); ok {
		cfg.ReconnectMaxDelay = d
	}
	if d, ok := getDuration("CRAFTCHAT_HEARTBEAT_INTERVAL"); ok {
		cfg.HeartbeatInterval = d
	}

	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	return cfg
}

// ResolveToken returns the configured credential, reading the token file
// if no inline token is set. Empty means anonymous.
func (c Config) ResolveToken() string {
	if c.Token != "" {
		return c.Token
	}
	if c.TokenFile != "" {
		raw, err := os.ReadFile(c.TokenFile)
		if err == nil {
			return strings.TrimSpace(string(raw))
		}
	}
	return ""
}

func configFilePath() string {
	if path := os.Getenv("CRAFTCHAT_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".config", "craftchat", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
