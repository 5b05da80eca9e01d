// ABOUTME: Configuration loading and parsing for coven-recall
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-recall configuration
type Config struct {
	Recall   RecallConfig   `yaml:"recall" toml:"recall"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Gateway  GatewayConfig  `yaml:"gateway" toml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// RecallConfig holds the recall behaviour settings
type RecallConfig struct {
	Marker             string   `yaml:"marker" toml:"marker"`
	MaxHistory         int      `yaml:"max_history" toml:"max_history"`
	SupportedPlatforms []string `yaml:"supported_platforms" toml:"supported_platforms"`
	CommandPrefix      string   `yaml:"command_prefix" toml:"command_prefix"`

	SettleDelay     time.Duration `yaml:"-" toml:"-"`
	DeleteTimeout   time.Duration `yaml:"-" toml:"-"`
	CommandCooldown time.Duration `yaml:"-" toml:"-"`
	DedupeTTL       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SettleDelayRaw     string `yaml:"settle_delay" toml:"settle_delay"`
	DeleteTimeoutRaw   string `yaml:"delete_timeout" toml:"delete_timeout"`
	CommandCooldownRaw string `yaml:"command_cooldown" toml:"command_cooldown"`
	DedupeTTLRaw       string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// MatrixConfig holds Matrix frontend configuration
type MatrixConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	Homeserver      string   `yaml:"homeserver" toml:"homeserver"`
	Username        string   `yaml:"username" toml:"username"`
	Password        string   `yaml:"password" toml:"password"`
	RecoveryKey     string   `yaml:"recovery_key" toml:"recovery_key"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
}

// TelegramConfig holds Telegram frontend configuration
type TelegramConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	Token           string   `yaml:"token" toml:"token"`
	AllowedChats    []string `yaml:"allowed_chats" toml:"allowed_chats"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
}

// GatewayConfig points at the agent gateway that answers user messages
type GatewayConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults
const (
	DefaultMarker          = "[recall]"
	DefaultMaxHistory      = 20
	DefaultSettleDelay     = 500 * time.Millisecond
	DefaultDeleteTimeout   = 10 * time.Second
	DefaultCommandCooldown = 2 * time.Second
	DefaultDedupeTTL       = 5 * time.Minute
	DefaultCommandPrefix   = "/"
	DefaultMetricsAddr     = "127.0.0.1:9464"
	DefaultMetricsPath     = "/metrics"
)

// DefaultSupportedPlatforms are the platforms whose transports can delete messages.
var DefaultSupportedPlatforms = []string{"matrix", "telegram"}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration content, then applies defaults and validates.
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills every unset optional field
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Recall.Marker) == "" {
		c.Recall.Marker = DefaultMarker
	}
	if c.Recall.MaxHistory == 0 {
		c.Recall.MaxHistory = DefaultMaxHistory
	}
	if c.Recall.SettleDelayRaw == "" {
		c.Recall.SettleDelay = DefaultSettleDelay
	}
	if c.Recall.DeleteTimeoutRaw == "" {
		c.Recall.DeleteTimeout = DefaultDeleteTimeout
	}
	if c.Recall.CommandCooldownRaw == "" {
		c.Recall.CommandCooldown = DefaultCommandCooldown
	}
	if c.Recall.DedupeTTLRaw == "" {
		c.Recall.DedupeTTL = DefaultDedupeTTL
	}
	if c.Recall.SupportedPlatforms == nil {
		c.Recall.SupportedPlatforms = append([]string(nil), DefaultSupportedPlatforms...)
	}
	if c.Recall.CommandPrefix == "" {
		c.Recall.CommandPrefix = DefaultCommandPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Matrix.Enabled && !c.Telegram.Enabled {
		return fmt.Errorf("at least one of matrix or telegram must be enabled")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required")
		}
		if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		if c.Matrix.Username == "" {
			return fmt.Errorf("matrix.username is required")
		}
		if c.Matrix.Password == "" {
			return fmt.Errorf("matrix.password is required")
		}
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}

	if c.Recall.MaxHistory < 2 {
		return fmt.Errorf("recall.max_history must be at least 2, got %d", c.Recall.MaxHistory)
	}
	if c.Recall.SettleDelay < 0 {
		return fmt.Errorf("recall.settle_delay must not be negative")
	}
	if c.Recall.DeleteTimeout <= 0 {
		return fmt.Errorf("recall.delete_timeout must be positive")
	}
	if c.Recall.CommandCooldown < 0 {
		return fmt.Errorf("recall.command_cooldown must not be negative")
	}
	if c.Recall.DedupeTTL <= 0 {
		return fmt.Errorf("recall.dedupe_ttl must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"settle_delay", cfg.Recall.SettleDelayRaw, &cfg.Recall.SettleDelay},
		{"delete_timeout", cfg.Recall.DeleteTimeoutRaw, &cfg.Recall.DeleteTimeout},
		{"command_cooldown", cfg.Recall.CommandCooldownRaw, &cfg.Recall.CommandCooldown},
		{"dedupe_ttl", cfg.Recall.DedupeTTLRaw, &cfg.Recall.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
