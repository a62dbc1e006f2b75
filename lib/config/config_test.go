package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/session"
	"github.com/go-i2p/dbcp/lib/validation"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Database.DBName = "app"
	cfg.Database.Username = "app"
	cfg.Database.Password = "secret"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Database.Host != "localhost" {
		t.Errorf("Host = %q, want localhost", cfg.Database.Host)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Port = %d, want 3306", cfg.Database.Port)
	}
	if cfg.Pool.MinSize != 5 || cfg.Pool.MaxSize != 20 {
		t.Errorf("sizes = %d/%d, want 5/20", cfg.Pool.MinSize, cfg.Pool.MaxSize)
	}
	if cfg.Pool.MaxIdleTime != 60 {
		t.Errorf("MaxIdleTime = %d, want 60", cfg.Pool.MaxIdleTime)
	}
	if cfg.Pool.ConnectionTimeout != 5000 {
		t.Errorf("ConnectionTimeout = %d, want 5000", cfg.Pool.ConnectionTimeout)
	}
	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrConfigMissingField) {
		t.Errorf("defaults without credentials: Validate() = %v, want missing field", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing dbname",
			modify:  func(c *Config) { c.Database.DBName = "" },
			wantErr: apperrors.ErrConfigMissingField,
		},
		{
			name:    "missing username",
			modify:  func(c *Config) { c.Database.Username = "" },
			wantErr: apperrors.ErrConfigMissingField,
		},
		{
			name:    "missing password",
			modify:  func(c *Config) { c.Database.Password = "" },
			wantErr: apperrors.ErrConfigMissingField,
		},
		{
			name: "sqlite needs no credentials",
			modify: func(c *Config) {
				c.Database.Driver = session.DriverSQLite
				c.Database.Username, c.Database.Password = "", ""
			},
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Database.Port = 70000 },
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:    "listen without port",
			modify:  func(c *Config) { c.Server.Listen = "localhost" },
			wantErr: validation.ErrInvalidFormat,
		},
		{
			name:    "empty listen",
			modify:  func(c *Config) { c.Server.Listen = "" },
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:    "min above max",
			modify:  func(c *Config) { c.Pool.MinSize, c.Pool.MaxSize = 10, 5 },
			wantErr: apperrors.ErrConfigSizeBounds,
		},
		{
			name:    "negative min",
			modify:  func(c *Config) { c.Pool.MinSize = -1 },
			wantErr: apperrors.ErrConfigSizeBounds,
		},
		{
			name:   "zero min",
			modify: func(c *Config) { c.Pool.MinSize = 0 },
		},
		{
			name:    "zero idle time",
			modify:  func(c *Config) { c.Pool.MaxIdleTime = 0 },
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:    "zero connection timeout",
			modify:  func(c *Config) { c.Pool.ConnectionTimeout = 0 },
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:    "rate limit without burst",
			modify:  func(c *Config) { c.Server.RateLimit, c.Server.RateBurst = 10, 0 },
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:   "rate limit disabled",
			modify: func(c *Config) { c.Server.RateLimit, c.Server.RateBurst = 0, 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if !apperrors.IsConfiguration(err) {
				t.Errorf("Validate() error %v should wrap ErrConfiguration", err)
			}
		})
	}
}

func TestLoadConfig_Flat(t *testing.T) {
	path := writeFile(t, "mysql.config", `# pool settings
; semicolon comments too
host = db.internal
port=3307
dbname = orders
user = svc
password = hunter2
initSize = 3
maxSize = 12 # ceiling
maxIdleTime = 30
connectionTimeout = 250
  ; indented comment
unknownKey = ignored
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 3307 {
		t.Errorf("endpoint = %s:%d, want db.internal:3307", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.DBName != "orders" || cfg.Database.Username != "svc" || cfg.Database.Password != "hunter2" {
		t.Errorf("database = %+v", cfg.Database)
	}

	pc := cfg.PoolConfig()
	if pc.MinSize != 3 || pc.MaxSize != 12 {
		t.Errorf("sizes = %d/%d, want 3/12", pc.MinSize, pc.MaxSize)
	}
	if pc.MaxIdleTime != 30*time.Second {
		t.Errorf("MaxIdleTime = %v, want 30s", pc.MaxIdleTime)
	}
	if pc.AcquireTimeout != 250*time.Millisecond {
		t.Errorf("AcquireTimeout = %v, want 250ms", pc.AcquireTimeout)
	}
	if cfg.Database.Driver != session.DriverMySQL {
		t.Errorf("Driver = %q, want mysql default", cfg.Database.Driver)
	}
}

func TestLoadConfig_FlatDefaults(t *testing.T) {
	path := writeFile(t, "minimal.config", "dbname=a\nuser=b\npassword=c\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.Host != DefaultHost || cfg.Database.Port != DefaultPort {
		t.Errorf("endpoint = %s:%d, want defaults", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Pool.MinSize != DefaultMinSize || cfg.Pool.MaxSize != DefaultMaxSize {
		t.Errorf("sizes = %d/%d, want defaults", cfg.Pool.MinSize, cfg.Pool.MaxSize)
	}
}

func TestLoadConfig_FlatErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"missing password", "dbname=a\nuser=b\n", apperrors.ErrConfigMissingField},
		{"min above max", "dbname=a\nuser=b\npassword=c\ninitSize=9\nmaxSize=3\n", apperrors.ErrConfigSizeBounds},
		{"non-numeric port", "dbname=a\nuser=b\npassword=c\nport=abc\n", apperrors.ErrConfiguration},
		{"malformed line", "dbname=a\nuser=b\npassword=c\nnot a key value line\n", apperrors.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "bad.config", tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "dbcp.toml", `
[database]
driver = "pgx"
host = "pg.internal"
port = 5432
dbname = "app"
username = "app"
password = "secret"

[database.params]
sslmode = "disable"

[pool]
min_size = 2
max_size = 8
max_idle_time = 120
connection_timeout = 1500

[server]
listen = "0.0.0.0:9000"
auth_token = "tok"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	dc := cfg.DialerConfig()
	if dc.Driver != session.DriverPostgres || dc.Addr() != "pg.internal:5432" {
		t.Errorf("dialer = %s %s", dc.Driver, dc.Addr())
	}
	if dc.Params["sslmode"] != "disable" {
		t.Errorf("Params = %v, want sslmode=disable", dc.Params)
	}
	if dc.ConnectTimeout != 1500*time.Millisecond {
		t.Errorf("ConnectTimeout = %v, want 1.5s", dc.ConnectTimeout)
	}
	if cfg.Pool.MinSize != 2 || cfg.Pool.MaxSize != 8 {
		t.Errorf("sizes = %d/%d, want 2/8", cfg.Pool.MinSize, cfg.Pool.MaxSize)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" || cfg.Server.AuthToken != "tok" {
		t.Errorf("server = %+v", cfg.Server)
	}
	// Unset keys keep their defaults.
	if cfg.Server.RateLimit != DefaultRateLimit {
		t.Errorf("RateLimit = %v, want default", cfg.Server.RateLimit)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "dbcp.yaml", `
database:
  driver: sqlite3
  dbname: /var/lib/dbcp/app.db
pool:
  min_size: 1
  max_size: 4
server:
  rate_limit: 0
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.Driver != session.DriverSQLite || cfg.Database.DBName != "/var/lib/dbcp/app.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Pool.MaxSize != 4 {
		t.Errorf("MaxSize = %d, want 4", cfg.Pool.MaxSize)
	}
	if cfg.Server.RateLimit != 0 {
		t.Errorf("RateLimit = %v, want 0", cfg.Server.RateLimit)
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	_, err := LoadConfig(writeFile(t, "invalid.toml", "this is not [valid toml"))
	if err == nil {
		t.Fatal("LoadConfig should error on invalid TOML")
	}
	if !apperrors.IsConfiguration(err) {
		t.Errorf("parse error %v should wrap ErrConfiguration", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig() error = %v, want os.ErrNotExist", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(*testing.T, *Config)
	}{
		{
			name: "database overrides",
			envVars: map[string]string{
				"DBCP_HOST":     "10.0.0.5",
				"DBCP_PORT":     "3310",
				"DBCP_PASSWORD": "from-env",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3310 {
					t.Errorf("endpoint = %s:%d", cfg.Database.Host, cfg.Database.Port)
				}
				if cfg.Database.Password != "from-env" {
					t.Errorf("Password = %q, want from-env", cfg.Database.Password)
				}
			},
		},
		{
			name: "pool and server overrides",
			envVars: map[string]string{
				"DBCP_MIN_SIZE":   "1",
				"DBCP_MAX_SIZE":   "3",
				"DBCP_LISTEN":     ":7000",
				"DBCP_AUTH_TOKEN": "t0k",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Pool.MinSize != 1 || cfg.Pool.MaxSize != 3 {
					t.Errorf("sizes = %d/%d, want 1/3", cfg.Pool.MinSize, cfg.Pool.MaxSize)
				}
				if cfg.Server.Listen != ":7000" || cfg.Server.AuthToken != "t0k" {
					t.Errorf("server = %+v", cfg.Server)
				}
			},
		},
		{
			name: "timing and limits",
			envVars: map[string]string{
				"DBCP_RETRY_INTERVAL":  "250",
				"DBCP_RATE_LIMIT":      "2.5",
				"DBCP_MAX_CONNECTIONS": "-1",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Pool.RetryInterval != 250 {
					t.Errorf("RetryInterval = %d, want 250", cfg.Pool.RetryInterval)
				}
				if cfg.Server.RateLimit != 2.5 || cfg.Server.MaxConnections != -1 {
					t.Errorf("server = %+v", cfg.Server)
				}
			},
		},
		{
			name:    "unset variables keep file values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Database.Port != DefaultPort || cfg.Server.Listen != DefaultListen {
					t.Errorf("defaults changed: port=%d listen=%q", cfg.Database.Port, cfg.Server.Listen)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			if err := applyEnvOverrides(cfg); err != nil {
				t.Fatalf("applyEnvOverrides() error = %v", err)
			}
			tt.validate(t, cfg)
		})
	}
}

func TestLoadConfig_InvalidEnvOverride(t *testing.T) {
	for _, name := range []string{"DBCP_PORT", "DBCP_MAX_SIZE"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "not-a-number")
			_, err := LoadConfig(writeFile(t, "app.config", "dbname=a\nuser=b\npassword=c\n"))
			if !errors.Is(err, apperrors.ErrConfiguration) {
				t.Errorf("LoadConfig() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadConfig_EnvSuppliesCredentials(t *testing.T) {
	t.Setenv("DBCP_USERNAME", "env-user")
	t.Setenv("DBCP_PASSWORD", "env-pass")

	cfg, err := LoadConfig(writeFile(t, "partial.config", "dbname=app\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.Username != "env-user" || cfg.Database.Password != "env-pass" {
		t.Errorf("credentials = %q/%q", cfg.Database.Username, cfg.Database.Password)
	}
}

func TestShutdownTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ShutdownTimeout(); got != 10*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 10s", got)
	}
}
