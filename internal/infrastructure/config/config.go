package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Realtime    RealtimeConfig    `yaml:"realtime" toml:"realtime"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Logging     LogConfig         `yaml:"logging" toml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" toml:"diagnostics"`
	DevServer   DevServerConfig   `yaml:"devserver" toml:"devserver"`
}

// RealtimeConfig holds the shared connection settings.
//
// Defaults live in Default() rather than struct tags so that values read
// from a config file survive environment processing.
type RealtimeConfig struct {
	URL               string   `envconfig:"RT_URL" yaml:"url" toml:"url"`
	BackoffMin        Duration `envconfig:"RT_BACKOFF_MIN" yaml:"backoff_min" toml:"backoff_min"`
	BackoffMax        Duration `envconfig:"RT_BACKOFF_MAX" yaml:"backoff_max" toml:"backoff_max"`
	BackoffMultiplier float64  `envconfig:"RT_BACKOFF_MULTIPLIER" yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	MaxRetries        int      `envconfig:"RT_MAX_RETRIES" yaml:"max_retries" toml:"max_retries"`
	AckTimeout        Duration `envconfig:"RT_ACK_TIMEOUT" yaml:"ack_timeout" toml:"ack_timeout"`
	HeartbeatInterval Duration `envconfig:"RT_HEARTBEAT_INTERVAL" yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	PingInterval      Duration `envconfig:"RT_PING_INTERVAL" yaml:"ping_interval" toml:"ping_interval"`
	PongWait          Duration `envconfig:"RT_PONG_WAIT" yaml:"pong_wait" toml:"pong_wait"`
	HandshakeTimeout  Duration `envconfig:"RT_HANDSHAKE_TIMEOUT" yaml:"handshake_timeout" toml:"handshake_timeout"`
	SendQueue         int      `envconfig:"RT_SEND_QUEUE" yaml:"send_queue" toml:"send_queue"`
	SendRPS           float64  `envconfig:"RT_SEND_RPS" yaml:"send_rps" toml:"send_rps"`
	RetainTerminal    Duration `envconfig:"RT_RETAIN_TERMINAL" yaml:"retain_terminal" toml:"retain_terminal"`
}

// AuthConfig holds handshake token settings. TokenURL takes precedence
// over a static Token.
type AuthConfig struct {
	TokenURL string   `envconfig:"RT_AUTH_URL" yaml:"token_url" toml:"token_url"`
	Token    string   `envconfig:"RT_TOKEN" yaml:"token" toml:"token"`
	Timeout  Duration `envconfig:"RT_AUTH_TIMEOUT" yaml:"timeout" toml:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// DiagnosticsConfig holds the local status server configuration.
type DiagnosticsConfig struct {
	Enabled           bool   `envconfig:"DIAG_ENABLED" yaml:"enabled" toml:"enabled"`
	Addr              string `envconfig:"DIAG_ADDR" yaml:"addr" toml:"addr"`
	RequestsPerSecond int    `envconfig:"DIAG_RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int    `envconfig:"DIAG_RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	// GlobalRequestsPerSecond caps all clients together; 0 disables
	GlobalRequestsPerSecond int      `envconfig:"DIAG_GLOBAL_RPS" yaml:"global_requests_per_second" toml:"global_requests_per_second"`
	AllowOrigins            []string `envconfig:"DIAG_ALLOW_ORIGINS" yaml:"allow_origins" toml:"allow_origins"`
}

// DevServerConfig holds settings for the local development stream server.
type DevServerConfig struct {
	Addr     string   `envconfig:"DEVSERVER_ADDR" yaml:"addr" toml:"addr"`
	Steps    int      `envconfig:"DEVSERVER_STEPS" yaml:"steps" toml:"steps"`
	Interval Duration `envconfig:"DEVSERVER_INTERVAL" yaml:"interval" toml:"interval"`
}

// Load loads configuration from environment variables on top of defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads a YAML or TOML file (chosen by extension) on top of the
// defaults, then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			URL:               "ws://localhost:8080/ws",
			BackoffMin:        Duration(500 * time.Millisecond),
			BackoffMax:        Duration(30 * time.Second),
			BackoffMultiplier: 2.0,
			MaxRetries:        0,
			AckTimeout:        Duration(15 * time.Second),
			HeartbeatInterval: Duration(25 * time.Second),
			PingInterval:      Duration(30 * time.Second),
			PongWait:          Duration(60 * time.Second),
			HandshakeTimeout:  Duration(10 * time.Second),
			SendQueue:         256,
			SendRPS:           0,
			RetainTerminal:    Duration(time.Minute),
		},
		Auth: AuthConfig{
			Timeout: Duration(10 * time.Second),
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:           true,
			Addr:              "127.0.0.1:9090",
			RequestsPerSecond: 20,
			Burst:             40,
			AllowOrigins:      []string{"*"},

			GlobalRequestsPerSecond: 100,
		},
		DevServer: DevServerConfig{
			Addr:     ":8080",
			Steps:    5,
			Interval: Duration(200 * time.Millisecond),
		},
	}
}

// Validate checks invariants the components rely on.
func (c *Config) Validate() error {
	r := c.Realtime
	if r.URL == "" {
		return fmt.Errorf("invalid config: RT_URL is empty")
	}
	if r.BackoffMin <= 0 {
		return fmt.Errorf("invalid config: backoff_min must be positive")
	}
	if r.BackoffMax < r.BackoffMin {
		return fmt.Errorf("invalid config: backoff_max %s below backoff_min %s", r.BackoffMax, r.BackoffMin)
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("invalid config: backoff_multiplier must be >= 1")
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("invalid config: max_retries cannot be negative")
	}
	if r.SendQueue <= 0 {
		return fmt.Errorf("invalid config: send_queue must be positive")
	}
	if r.SendRPS < 0 {
		return fmt.Errorf("invalid config: send_rps cannot be negative")
	}
	return nil
}
