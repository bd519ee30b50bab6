package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	AppServer   AppServerConfig
	Logging     LogConfig
	RateLimit   RateLimitConfig
	Preferences PreferencesConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string `envconfig:"PORT" default:"8765"`
	Host     string `envconfig:"HOST" default:"127.0.0.1"`
	Compress bool   `envconfig:"HTTP_COMPRESS" default:"true"`
}

// AppServerConfig describes how the agent subprocess is found, launched and stopped.
type AppServerConfig struct {
	Binary           string        `envconfig:"APP_SERVER_BIN"`
	Name             string        `envconfig:"APP_SERVER_NAME" default:"codex"`
	Args             []string      `envconfig:"APP_SERVER_ARGS" default:"app-server"`
	SearchPaths      []string      `envconfig:"APP_SERVER_SEARCH_PATHS"`
	WorkDir          string        `envconfig:"APP_SERVER_WORKDIR"`
	HandshakeTimeout time.Duration `envconfig:"APP_SERVER_HANDSHAKE_TIMEOUT" default:"30s"`
	StopTimeout      time.Duration `envconfig:"APP_SERVER_STOP_TIMEOUT" default:"5s"`
	AutoStart        bool          `envconfig:"APP_SERVER_AUTOSTART" default:"true"`
	ClientName       string        `envconfig:"APP_SERVER_CLIENT_NAME" default:"agentshell"`
	ClientVersion    string        `envconfig:"APP_SERVER_CLIENT_VERSION" default:"0.1.0"`
	StartFailures    uint32        `envconfig:"APP_SERVER_START_FAILURES" default:"3"`
	StartCooldown    time.Duration `envconfig:"APP_SERVER_START_COOLDOWN" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// PreferencesConfig locates the preferences file.
type PreferencesConfig struct {
	Path string `envconfig:"PREFERENCES_PATH"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Preferences.Path == "" {
		cfg.Preferences.Path = DefaultPreferencesPath()
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     "8765",
			Host:     "127.0.0.1",
			Compress: true,
		},
		AppServer: AppServerConfig{
			Name:             "codex",
			Args:             []string{"app-server"},
			HandshakeTimeout: 30 * time.Second,
			StopTimeout:      5 * time.Second,
			AutoStart:        true,
			ClientName:       "agentshell",
			ClientVersion:    "0.1.0",
			StartFailures:    3,
			StartCooldown:    30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		Preferences: PreferencesConfig{
			Path: DefaultPreferencesPath(),
		},
	}
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// DefaultPreferencesPath returns the per-user preferences file location.
func DefaultPreferencesPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "agentshell", "preferences.toml")
}
