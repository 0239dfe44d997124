package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/agent-racer/realtime/internal/realtime"
)

type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Client ClientConfig `yaml:"client" toml:"client"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	Host            string        `yaml:"host" toml:"host"`
	Token           string        `yaml:"token" toml:"token"`
	AllowedOrigins  []string      `yaml:"allowed_origins" toml:"allowed_origins"`
	MaxConnections  int           `yaml:"max_connections" toml:"max_connections"`
	MetricsInterval time.Duration `yaml:"metrics_interval" toml:"metrics_interval"`

	// StreamDelay spaces out the chunks of a streamed reply.
	StreamDelay time.Duration `yaml:"stream_delay" toml:"stream_delay"`
}

type ClientConfig struct {
	Endpoint             string        `yaml:"endpoint" toml:"endpoint"`
	Token                string        `yaml:"token" toml:"token"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	InitialBackoff       time.Duration `yaml:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff           time.Duration `yaml:"max_backoff" toml:"max_backoff"`
	AckTimeout           time.Duration `yaml:"ack_timeout" toml:"ack_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval" toml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout" toml:"pong_timeout"`
	StreamEvent          string        `yaml:"stream_event" toml:"stream_event"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "console" or "json"
}

func defaultConfig() *Config {
	rt := realtime.DefaultConfig("ws://127.0.0.1:8080/ws")
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "127.0.0.1",
			MaxConnections:  100,
			MetricsInterval: 2 * time.Second,
			StreamDelay:     40 * time.Millisecond,
		},
		Client: ClientConfig{
			Endpoint:             rt.Endpoint,
			MaxReconnectAttempts: rt.MaxReconnectAttempts,
			InitialBackoff:       rt.InitialBackoff,
			MaxBackoff:           rt.MaxBackoff,
			AckTimeout:           rt.AckTimeout,
			HandshakeTimeout:     rt.HandshakeTimeout,
			WriteTimeout:         rt.WriteTimeout,
			PingInterval:         rt.PingInterval,
			PongTimeout:          rt.PongTimeout,
			StreamEvent:          rt.StreamEvent,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML or TOML file, chosen by extension, over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MetricsInterval < 0 {
		return fmt.Errorf("server.metrics_interval must not be negative")
	}
	if err := c.Realtime().Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}

// Realtime maps the client section onto the connection manager config.
func (c *Config) Realtime() realtime.Config {
	cl := c.Client
	return realtime.Config{
		Endpoint:             cl.Endpoint,
		Token:                cl.Token,
		MaxReconnectAttempts: cl.MaxReconnectAttempts,
		InitialBackoff:       cl.InitialBackoff,
		MaxBackoff:           cl.MaxBackoff,
		AckTimeout:           cl.AckTimeout,
		HandshakeTimeout:     cl.HandshakeTimeout,
		WriteTimeout:         cl.WriteTimeout,
		PingInterval:         cl.PingInterval,
		PongTimeout:          cl.PongTimeout,
		StreamEvent:          cl.StreamEvent,
	}
}

// Addr is the listen address of the reference server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
