// Package config provides configuration management for sandbridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for sandbridge.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Search   SearchConfig   `mapstructure:"search"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds SQLite storage configuration.
// An empty path selects the in-memory event store (useful for development).
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StreamConfig holds settings for the client-facing event stream endpoints.
type StreamConfig struct {
	// PingIntervalMs is advertised to Socket.IO clients in the handshake.
	PingIntervalMs int `mapstructure:"pingIntervalMs"`
	// PingTimeoutMs is advertised to Socket.IO clients in the handshake.
	PingTimeoutMs int `mapstructure:"pingTimeoutMs"`
}

// UpstreamConfig holds settings for the upstream Socket.IO proxy.
type UpstreamConfig struct {
	// URL is the base URL of the upstream runtime's Socket.IO server
	// (http or https). Empty disables the proxy endpoint.
	URL string `mapstructure:"url"`
	// ConnectTimeout is the upstream WebSocket connect timeout in seconds.
	// Clamped to a sane maximum at use site.
	ConnectTimeout int `mapstructure:"connectTimeout"`
}

// SearchConfig holds settings for the remote conversation search gateway.
type SearchConfig struct {
	// RemoteURL is the remote conversation-listing endpoint. Empty means
	// local-only search.
	RemoteURL string `mapstructure:"remoteUrl"`
	// CooldownSeconds is how long the remote is skipped after a failure.
	CooldownSeconds int `mapstructure:"cooldownSeconds"`
	// RequestTimeout is the remote call timeout in seconds.
	RequestTimeout int `mapstructure:"requestTimeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// PingInterval returns the Socket.IO ping interval as a time.Duration.
func (s *StreamConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalMs) * time.Millisecond
}

// PingTimeout returns the Socket.IO ping timeout as a time.Duration.
func (s *StreamConfig) PingTimeout() time.Duration {
	return time.Duration(s.PingTimeoutMs) * time.Millisecond
}

// ConnectTimeoutDuration returns the upstream connect timeout as a time.Duration.
func (u *UpstreamConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(u.ConnectTimeout) * time.Second
}

// Cooldown returns the breaker cooldown as a time.Duration.
func (s *SearchConfig) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// RequestTimeoutDuration returns the remote request timeout as a time.Duration.
func (s *SearchConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// detectDefaultLogFormat returns "json" for production-like environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("SANDBRIDGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - empty path means in-memory event store
	v.SetDefault("database.path", "./sandbridge.db")

	// Stream defaults - pingInterval is part of the Socket.IO handshake contract
	v.SetDefault("stream.pingIntervalMs", 25000)
	v.SetDefault("stream.pingTimeoutMs", 20000)

	// Upstream proxy defaults
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.connectTimeout", 10)

	// Search defaults
	v.SetDefault("search.remoteUrl", "")
	v.SetDefault("search.cooldownSeconds", 30)
	v.SetDefault("search.requestTimeout", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SANDBRIDGE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/sandbridge/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SANDBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("upstream.url", "SANDBRIDGE_UPSTREAM_URL")
	_ = v.BindEnv("upstream.connectTimeout", "SANDBRIDGE_UPSTREAM_CONNECT_TIMEOUT")
	_ = v.BindEnv("search.remoteUrl", "SANDBRIDGE_SEARCH_REMOTE_URL")
	_ = v.BindEnv("database.path", "SANDBRIDGE_DB_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sandbridge/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Stream.PingIntervalMs <= 0 {
		errs = append(errs, "stream.pingIntervalMs must be positive")
	}
	if cfg.Stream.PingTimeoutMs <= 0 {
		errs = append(errs, "stream.pingTimeoutMs must be positive")
	}

	if cfg.Upstream.URL != "" {
		if !strings.HasPrefix(cfg.Upstream.URL, "http://") && !strings.HasPrefix(cfg.Upstream.URL, "https://") {
			errs = append(errs, "upstream.url must be an http or https URL")
		}
		if cfg.Upstream.ConnectTimeout <= 0 {
			errs = append(errs, "upstream.connectTimeout must be positive")
		}
	}

	if cfg.Search.CooldownSeconds <= 0 {
		errs = append(errs, "search.cooldownSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	// "console" is the logger's alias for "text"; accept both.
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
