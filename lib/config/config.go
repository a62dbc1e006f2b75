// Package config loads dbcp configuration. Files are TOML or YAML by
// extension; anything else is read as a flat key=value file. Environment
// variables prefixed DBCP_ override file values.
package config

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/pool"
	"github.com/go-i2p/dbcp/lib/session"
	"github.com/go-i2p/dbcp/lib/validation"
)

// Default configuration values
const (
	DefaultDriver            = session.DriverMySQL
	DefaultHost              = "localhost"
	DefaultPort              = 3306
	DefaultMinSize           = 5
	DefaultMaxSize           = 20
	DefaultMaxIdleTime       = 60   // seconds
	DefaultConnectionTimeout = 5000 // milliseconds
	DefaultRetryInterval     = 1000 // milliseconds
	DefaultListen            = "127.0.0.1:8080"
	DefaultRateLimit         = 50.0
	DefaultRateBurst         = 100
	DefaultShutdownTimeout   = 10 // seconds
	DefaultMaxConnections    = 256
)

// Config holds all configuration for a dbcp process.
type Config struct {
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Pool     PoolConfig     `toml:"pool" yaml:"pool"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
}

// DatabaseConfig describes the single backend endpoint.
type DatabaseConfig struct {
	// Driver is one of mysql, pgx or sqlite3
	Driver   string `toml:"driver" yaml:"driver" env:"DBCP_DRIVER"`
	Host     string `toml:"host" yaml:"host" env:"DBCP_HOST"`
	Port     int    `toml:"port" yaml:"port" env:"DBCP_PORT"`
	DBName   string `toml:"dbname" yaml:"dbname" env:"DBCP_DBNAME"`
	Username string `toml:"username" yaml:"username" env:"DBCP_USERNAME"`
	Password string `toml:"password" yaml:"password" env:"DBCP_PASSWORD"`
	// Params are extra driver DSN parameters
	Params map[string]string `toml:"params,omitempty" yaml:"params,omitempty"`
}

// PoolConfig contains pool sizing and timing. Durations are integers in
// the unit named by each field, as in the flat file format.
type PoolConfig struct {
	MinSize int `toml:"min_size" yaml:"min_size" env:"DBCP_MIN_SIZE"`
	MaxSize int `toml:"max_size" yaml:"max_size" env:"DBCP_MAX_SIZE"`
	// MaxIdleTime is in seconds
	MaxIdleTime int `toml:"max_idle_time" yaml:"max_idle_time" env:"DBCP_MAX_IDLE_TIME"`
	// ConnectionTimeout bounds acquire and each dial, in milliseconds
	ConnectionTimeout int `toml:"connection_timeout" yaml:"connection_timeout" env:"DBCP_CONNECTION_TIMEOUT"`
	// RetryInterval is the producer backoff after a failed dial, in milliseconds
	RetryInterval int `toml:"retry_interval" yaml:"retry_interval" env:"DBCP_RETRY_INTERVAL"`
	// SweepInterval is in seconds; 0 means MaxIdleTime
	SweepInterval int `toml:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty" env:"DBCP_SWEEP_INTERVAL"`
}

// ServerConfig contains HTTP adapter settings.
type ServerConfig struct {
	// Listen is the address to bind the HTTP server to
	Listen string `toml:"listen" yaml:"listen" env:"DBCP_LISTEN"`
	// AuthToken is the bearer token required on every endpoint but /health.
	// Empty disables authentication.
	AuthToken string `toml:"auth_token" yaml:"auth_token" env:"DBCP_AUTH_TOKEN"`
	// RateLimit is requests per second per client; 0 disables limiting
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit" env:"DBCP_RATE_LIMIT"`
	RateBurst int     `toml:"rate_burst" yaml:"rate_burst" env:"DBCP_RATE_BURST"`
	// ShutdownTimeout is in seconds
	ShutdownTimeout int `toml:"shutdown_timeout" yaml:"shutdown_timeout" env:"DBCP_SHUTDOWN_TIMEOUT"`
	// MaxConnections caps concurrent HTTP connections; negative disables the cap
	MaxConnections int `toml:"max_connections" yaml:"max_connections" env:"DBCP_MAX_CONNECTIONS"`
}

// DefaultConfig returns a Config with sensible defaults. Database name and
// credentials have no defaults and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DefaultDriver,
			Host:   DefaultHost,
			Port:   DefaultPort,
		},
		Pool: PoolConfig{
			MinSize:           DefaultMinSize,
			MaxSize:           DefaultMaxSize,
			MaxIdleTime:       DefaultMaxIdleTime,
			ConnectionTimeout: DefaultConnectionTimeout,
			RetryInterval:     DefaultRetryInterval,
		},
		Server: ServerConfig{
			Listen:          DefaultListen,
			RateLimit:       DefaultRateLimit,
			RateBurst:       DefaultRateBurst,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxConnections:  DefaultMaxConnections,
		},
	}
}

// LoadConfig reads configuration from path, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = parseFlat(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w: %w", filepath.Base(path), apperrors.ErrConfiguration, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w: %w", apperrors.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.WithField("path", path).
		WithField("driver", cfg.Database.Driver).
		WithField("host", cfg.Database.Host).
		Debug("config loaded")
	return cfg, nil
}

// Validate checks the configuration for errors. Every error wraps
// errors.ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case session.DriverMySQL, session.DriverPostgres, session.DriverSQLite:
	default:
		return fmt.Errorf("database.driver %q is not supported: %w", c.Database.Driver, apperrors.ErrConfiguration)
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.dbname: %w", apperrors.ErrConfigMissingField)
	}
	// SQLite has no credentials.
	if c.Database.Driver != session.DriverSQLite {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host: %w", apperrors.ErrConfigMissingField)
		}
		if err := validation.Port("database.port", c.Database.Port); err != nil {
			return fmt.Errorf("%w: %w", err, apperrors.ErrConfiguration)
		}
		if c.Database.Username == "" {
			return fmt.Errorf("database.username: %w", apperrors.ErrConfigMissingField)
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password: %w", apperrors.ErrConfigMissingField)
		}
	}
	if c.Pool.MinSize < 0 || c.Pool.MaxSize < 1 || c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("pool min_size %d, max_size %d: %w", c.Pool.MinSize, c.Pool.MaxSize, apperrors.ErrConfigSizeBounds)
	}
	if c.Pool.MaxIdleTime < 1 {
		return fmt.Errorf("pool.max_idle_time must be at least 1 second: %w", apperrors.ErrConfiguration)
	}
	if c.Pool.ConnectionTimeout < 1 {
		return fmt.Errorf("pool.connection_timeout must be at least 1 millisecond: %w", apperrors.ErrConfiguration)
	}
	if c.Pool.RetryInterval < 0 || c.Pool.SweepInterval < 0 {
		return fmt.Errorf("pool intervals must not be negative: %w", apperrors.ErrConfiguration)
	}
	if err := validation.HostPort("server.listen", c.Server.Listen); err != nil {
		return fmt.Errorf("%w: %w", err, apperrors.ErrConfiguration)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limit must not be negative: %w", apperrors.ErrConfiguration)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1 when rate limiting: %w", apperrors.ErrConfiguration)
	}
	return nil
}

// PoolConfig converts the pool section to a pool.Config.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		MinSize:        c.Pool.MinSize,
		MaxSize:        c.Pool.MaxSize,
		MaxIdleTime:    time.Duration(c.Pool.MaxIdleTime) * time.Second,
		AcquireTimeout: time.Duration(c.Pool.ConnectionTimeout) * time.Millisecond,
		RetryInterval:  time.Duration(c.Pool.RetryInterval) * time.Millisecond,
		SweepInterval:  time.Duration(c.Pool.SweepInterval) * time.Second,
	}
}

// DialerConfig converts the database section to a session.DialerConfig.
// The connection timeout also bounds each dial.
func (c *Config) DialerConfig() session.DialerConfig {
	return session.DialerConfig{
		Driver:         c.Database.Driver,
		Host:           c.Database.Host,
		Port:           c.Database.Port,
		Database:       c.Database.DBName,
		Username:       c.Database.Username,
		Password:       c.Database.Password,
		ConnectTimeout: time.Duration(c.Pool.ConnectionTimeout) * time.Millisecond,
		Params:         c.Database.Params,
	}
}

// ShutdownTimeout returns the server drain deadline.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

// semicolonComment matches legacy ';' comment lines, which gotenv does
// not recognise.
var semicolonComment = regexp.MustCompile(`(?m)^[ \t]*;`)

// parseFlat reads the flat key=value format (mysql.config). Blank lines
// and lines starting with # or ; are skipped; keys and values are
// trimmed and a trailing # comment is dropped. Unquoted and
// double-quoted values expand $VAR references; single-quote a value to
// keep a literal '$'. Unknown keys are ignored, malformed lines are an
// error.
func parseFlat(data []byte, cfg *Config) error {
	data = semicolonComment.ReplaceAll(data, []byte("#"))
	vals, err := gotenv.StrictParse(bytes.NewReader(data))
	if err != nil {
		return err
	}
	// Sorted so that aliases (user, username) resolve the same way every run.
	for _, key := range slices.Sorted(maps.Keys(vals)) {
		if err := setFlat(cfg, key, strings.TrimSpace(vals[key])); err != nil {
			return err
		}
	}
	return nil
}

func setFlat(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "driver":
		cfg.Database.Driver = value
	case "host":
		cfg.Database.Host = value
	case "port":
		cfg.Database.Port, err = atoi(key, value)
	case "dbname":
		cfg.Database.DBName = value
	case "user", "username":
		cfg.Database.Username = value
	case "password":
		cfg.Database.Password = value
	case "initSize", "minSize":
		cfg.Pool.MinSize, err = atoi(key, value)
	case "maxSize":
		cfg.Pool.MaxSize, err = atoi(key, value)
	case "maxIdleTime":
		cfg.Pool.MaxIdleTime, err = atoi(key, value)
	case "connectionTimeout":
		cfg.Pool.ConnectionTimeout, err = atoi(key, value)
	case "retryInterval":
		cfg.Pool.RetryInterval, err = atoi(key, value)
	case "sweepInterval":
		cfg.Pool.SweepInterval, err = atoi(key, value)
	case "listen":
		cfg.Server.Listen = value
	case "authToken":
		cfg.Server.AuthToken = value
	default:
		log.WithField("key", key).Debug("ignoring unknown config key")
	}
	return err
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, value)
	}
	return n, nil
}

// applyEnvOverrides applies the DBCP_* variables named in the struct
// tags on top of the file. Unset variables leave the file value alone.
func applyEnvOverrides(cfg *Config) error {
	return env.Parse(cfg)
}
