// Package config loads pgworkspace settings.
//
// Precedence, lowest first: built-in defaults, a YAML file, a .env file,
// process environment variables, then command-line flags (applied by the
// CLI after Load returns).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/patina/pgworkspace/pkg/workspace"
)

// Environment variable names
const (
	EnvDatabaseImage      = "PGWS_DATABASE_IMAGE"
	EnvGatewayImage       = "PGWS_GATEWAY_IMAGE"
	EnvControlImage       = "PGWS_CONTROL_IMAGE"
	EnvDBUser             = "PGWS_DB_USER"
	EnvDBPassword         = "PGWS_DB_PASSWORD"
	EnvDBName             = "PGWS_DB_NAME"
	EnvAnonRole           = "PGWS_ANON_ROLE"
	EnvSchema             = "PGWS_SCHEMA"
	EnvReadinessInterval  = "PGWS_READINESS_INTERVAL"
	EnvReadinessAttempts  = "PGWS_READINESS_MAX_ATTEMPTS"
	EnvStopOnFirstFailure = "PGWS_STOP_ON_FIRST_FAILURE"
	EnvAddr               = "PGWS_ADDR"
	EnvLogFormat          = "PGWS_LOG_FORMAT"
	EnvLogLevel           = "PGWS_LOG_LEVEL"
	EnvModel              = "PGWS_MODEL"
	EnvAnthropicAPIKey    = "ANTHROPIC_API_KEY"
)

// DefaultDotEnv is read by LoadDotEnv when no path is given
const DefaultDotEnv = ".env"

// Config is the full pgworkspace configuration
type Config struct {
	Images      Images                `yaml:"images"`
	Credentials workspace.Credentials `yaml:"credentials"`
	Gateway     Gateway               `yaml:"gateway"`
	Control     Control               `yaml:"control"`
	Workspace   Workspace             `yaml:"workspace"`
	Readiness   Readiness             `yaml:"readiness"`
	Exec        Exec                  `yaml:"exec"`
	Server      Server                `yaml:"server"`
	Log         Log                   `yaml:"log"`
	Scaffold    Scaffold              `yaml:"scaffold"`
}

// Images pins the three container images
type Images struct {
	Database string `yaml:"database"`
	Gateway  string `yaml:"gateway"`
	Control  string `yaml:"control"`
}

// Gateway configures the REST gateway service
type Gateway struct {
	Alias string `yaml:"alias"`
	Port  int    `yaml:"port"`
}

// Control configures the control container
type Control struct {
	Packages []string `yaml:"packages"`
	WorkDir  string   `yaml:"workdir"`
}

// Workspace holds per-workspace defaults
type Workspace struct {
	AnonRole  string `yaml:"anon_role"`
	Schema    string `yaml:"schema"`
	Bootstrap bool   `yaml:"bootstrap"`
}

// Readiness bounds the database readiness gate
type Readiness struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Exec controls script application
type Exec struct {
	StopOnFirstFailure bool     `yaml:"stop_on_first_failure"`
	PsqlArgs           []string `yaml:"psql_args"`
}

// Server configures the HTTP API
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Log configures logging
type Log struct {
	Format string `yaml:"format"` // text | json
	Level  string `yaml:"level"`  // debug | info | warn | error
}

// Scaffold configures the SQL scaffold generator
type Scaffold struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	APIKey    string `yaml:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	f := workspace.DefaultFactoryConfig()
	return &Config{
		Images: Images{
			Database: f.DatabaseImage,
			Gateway:  f.GatewayImage,
			Control:  f.ControlImage,
		},
		Credentials: f.Credentials,
		Gateway: Gateway{
			Alias: f.GatewayAlias,
			Port:  f.GatewayPort,
		},
		Control: Control{
			Packages: f.ControlPackages,
			WorkDir:  f.WorkDir,
		},
		Workspace: Workspace{
			AnonRole: workspace.DefaultAnonRole,
			Schema:   workspace.DefaultSchema,
		},
		Readiness: Readiness{
			Interval:    f.Readiness.Interval,
			MaxAttempts: f.Readiness.MaxAttempts,
		},
		Exec: Exec{
			StopOnFirstFailure: f.Policy.StopOnFirstFailure,
			PsqlArgs:           f.Policy.PsqlArgs,
		},
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Log: Log{
			Format: "text",
			Level:  "info",
		},
		Scaffold: Scaffold{
			Model:     "claude-3-7-sonnet-20250219",
			MaxTokens: 4096,
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies the
// process environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultDotEnv}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str(EnvDatabaseImage, &c.Images.Database)
	str(EnvGatewayImage, &c.Images.Gateway)
	str(EnvControlImage, &c.Images.Control)
	str(EnvDBUser, &c.Credentials.User)
	str(EnvDBPassword, &c.Credentials.Password)
	str(EnvDBName, &c.Credentials.Database)
	str(EnvAnonRole, &c.Workspace.AnonRole)
	str(EnvSchema, &c.Workspace.Schema)
	str(EnvAddr, &c.Server.Addr)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvModel, &c.Scaffold.Model)
	str(EnvAnthropicAPIKey, &c.Scaffold.APIKey)

	if v, ok := lookup(EnvReadinessInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReadinessInterval, err)
		}
		c.Readiness.Interval = d
	}
	if v, ok := lookup(EnvReadinessAttempts); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReadinessAttempts, err)
		}
		c.Readiness.MaxAttempts = n
	}
	if v, ok := lookup(EnvStopOnFirstFailure); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStopOnFirstFailure, err)
		}
		c.Exec.StopOnFirstFailure = b
	}
	return nil
}

// Validate checks values the factory cannot recover from
func (c *Config) Validate() error {
	var errs []string
	if c.Readiness.Interval < 0 {
		errs = append(errs, "readiness.interval must not be negative")
	}
	if c.Readiness.MaxAttempts < 0 {
		errs = append(errs, "readiness.max_attempts must not be negative")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Scaffold.MaxTokens <= 0 {
		errs = append(errs, "scaffold.max_tokens must be positive")
	}
	if err := c.Credentials.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FactoryConfig converts c into the workspace factory configuration
func (c *Config) FactoryConfig() workspace.FactoryConfig {
	return workspace.FactoryConfig{
		DatabaseImage:   c.Images.Database,
		GatewayImage:    c.Images.Gateway,
		ControlImage:    c.Images.Control,
		Credentials:     c.Credentials,
		GatewayAlias:    c.Gateway.Alias,
		GatewayPort:     c.Gateway.Port,
		ControlPackages: c.Control.Packages,
		WorkDir:         c.Control.WorkDir,
		Readiness: workspace.ReadinessConfig{
			Interval:    c.Readiness.Interval,
			MaxAttempts: c.Readiness.MaxAttempts,
		},
		Policy: workspace.ExecPolicy{
			StopOnFirstFailure: c.Exec.StopOnFirstFailure,
			PsqlArgs:           c.Exec.PsqlArgs,
		},
	}
}

// WorkspaceConfig returns the per-workspace defaults
func (c *Config) WorkspaceConfig() *workspace.Config {
	return &workspace.Config{
		AnonRole:  c.Workspace.AnonRole,
		Schema:    c.Workspace.Schema,
		Bootstrap: c.Workspace.Bootstrap,
	}
}
