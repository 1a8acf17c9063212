// ABOUTME: Configuration loading and parsing for glass-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete glass-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Agent        AgentConfig        `yaml:"agent"`
	Conversation ConversationConfig `yaml:"conversation"`
	Stream       StreamConfig       `yaml:"stream"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig holds external assistant endpoint configuration
type AgentConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// ConversationConfig holds conversation bookkeeping configuration
type ConversationConfig struct {
	// Timezone is the IANA zone used to derive the per-day conversation key.
	// Defaults to UTC when empty.
	Timezone string `yaml:"timezone"`
}

// StreamConfig holds SSE stream configuration
type StreamConfig struct {
	KeepaliveInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	KeepaliveIntervalRaw string `yaml:"keepalive_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves optional fields unset.
const (
	DefaultAgentTimeout      = 90 * time.Second
	DefaultKeepaliveInterval = 30 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Conversation.Timezone != "" {
		if _, err := time.LoadLocation(c.Conversation.Timezone); err != nil {
			return fmt.Errorf("conversation.timezone %q: %w", c.Conversation.Timezone, err)
		}
	}

	return nil
}

// Location resolves the configured reporting timezone. UTC when unset.
func (c *Config) Location() *time.Location {
	if c.Conversation.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Conversation.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.TimeoutRaw != "" {
		cfg.Agent.Timeout, err = time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
	}

	if cfg.Stream.KeepaliveIntervalRaw != "" {
		cfg.Stream.KeepaliveInterval, err = time.ParseDuration(cfg.Stream.KeepaliveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing stream.keepalive_interval %q: %w", cfg.Stream.KeepaliveIntervalRaw, err)
		}
	}

	return nil
}

// applyDefaults fills in defaults for optional fields
func applyDefaults(cfg *Config) {
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = DefaultAgentTimeout
	}
	if cfg.Stream.KeepaliveInterval == 0 {
		cfg.Stream.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
