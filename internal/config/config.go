// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr          string        `yaml:"http_addr" toml:"http_addr"`
	ReadHeaderTimeout time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReadHeaderTimeoutRaw string `yaml:"read_header_timeout" toml:"read_header_timeout"`
	ShutdownTimeoutRaw   string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// StoreConfig selects the repository backend
type StoreConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // memory, sqlite
	Driver  string `yaml:"driver" toml:"driver"`   // sqlite (modernc), sqlite3 (mattn)
	Path    string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret disables API authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults
const (
	DefaultHTTPAddr          = "localhost:8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultBackend           = "memory"
	DefaultDriver            = "sqlite"
	DefaultStorePath         = ":memory:"

	// MinJWTSecretLength is the minimum accepted HS256 secret size in bytes
	MinJWTSecretLength = 32
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

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

// ApplyDefaults fills in zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultBackend
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultDriver
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.ReadHeaderTimeout < 0 {
		return fmt.Errorf("server.read_header_timeout must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
		if c.Store.Driver != "sqlite" && c.Store.Driver != "sqlite3" {
			return fmt.Errorf("store.driver must be sqlite or sqlite3, got %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.backend must be memory or sqlite, got %q", c.Store.Backend)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		cfg.Server.ReadHeaderTimeout, err = time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
	}

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	return nil
}
