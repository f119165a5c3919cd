// Package config loads service configuration from an optional YAML file and
// WB_-prefixed environment variables, environment taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Email    EmailConfig    `koanf:"email"`
	Queue    QueueConfig    `koanf:"queue"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// EmailConfig contains the Postmark provider settings. When the server token
// is empty the service falls back to a logging provider, which keeps local
// runs token-less.
type EmailConfig struct {
	PostmarkServerToken  string `koanf:"postmark_server_token"`
	PostmarkAccountToken string `koanf:"postmark_account_token"`
	FromAddress          string `koanf:"from_address"`
	ReplyTo              string `koanf:"reply_to"`
}

// QueueConfig contains queue processing settings.
type QueueConfig struct {
	BatchSize       int           `koanf:"batch_size"`
	SendRatePerSec  float64       `koanf:"send_rate_per_sec"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	StatsInterval   time.Duration `koanf:"stats_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Email: EmailConfig{
			FromAddress: "hello@wishbubble.app",
		},
		Queue: QueueConfig{
			BatchSize:       150,
			SendRatePerSec:  2,
			PollInterval:    15 * time.Second,
			CleanupInterval: 24 * time.Hour,
			StatsInterval:   15 * time.Second,
		},
	}
}

// Load reads configuration from the given YAML file (optional, pass "" to
// skip) and then from WB_-prefixed environment variables. A double
// underscore separates nesting levels: WB_DATABASE__MAX_OPEN_CONNS maps to
// database.max_open_conns.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider("WB_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "WB_")
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (WB_DATABASE__URL)")
	}
	if c.Email.FromAddress == "" {
		return fmt.Errorf("email.from_address is required (WB_EMAIL__FROM_ADDRESS)")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive")
	}
	if c.Queue.SendRatePerSec <= 0 {
		return fmt.Errorf("queue.send_rate_per_sec must be positive")
	}
	return nil
}
