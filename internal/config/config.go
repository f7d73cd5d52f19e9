// Package config provides configuration types for clibridge.
//
// Configuration is file-based YAML with environment overrides
// (CLIBRIDGE_SECTION_KEY). Durations are written as strings ("120s",
// "24h") and parsed at boot; an unparseable duration falls back to its
// default with a warning.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Defaults used by SetDefaults.
const (
	DefaultHTTPAddr        = "127.0.0.1:8787"
	DefaultLogLevel        = "info"
	DefaultBackend         = "claude"
	DefaultAgentTimeout    = "120s"
	DefaultMaxTurns        = 50
	DefaultMaxConcurrent   = 8
	DefaultSessionStore    = "file"
	DefaultSessionMaxAge   = "24h"
	DefaultSweepSchedule   = "@every 30m"
	DefaultMaxResultChars  = 50000
	DefaultMaxErrorChars   = 1000
	DefaultVaultTimeout    = "10s"
	DefaultMetricsInterval = "60s"
	DefaultShutdownTimeout = "10s"
	DefaultRateLimitRate   = 60
	DefaultRateLimitPeriod = "1m"
)

// Config is the top-level configuration for clibridge.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Agent configures the agent executable and how it is spawned.
	Agent AgentConfig `yaml:"agent" mapstructure:"agent"`

	// Session configures continuation token storage and expiry.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Decoder bounds the text copied into results.
	Decoder DecoderConfig `yaml:"decoder" mapstructure:"decoder"`

	// Vault configures the optional credential unlock step.
	Vault VaultConfig `yaml:"vault" mapstructure:"vault"`

	// Auth configures optional bearer authentication for /v1 routes.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// RateLimit throttles /v1 requests per client address.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Telemetry configures error reporting, tracing and service metrics.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables debug logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8787"
	// (loopback only).
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" mapstructure:"allowed_origins"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file,omitempty" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds one API request, queueing included. Empty
	// means twice agent.timeout.
	RequestTimeout string `yaml:"request_timeout,omitempty" mapstructure:"request_timeout"`

	// PIDFile is written by start and read by stop. Defaults to
	// ~/.clibridge/clibridge.pid.
	PIDFile string `yaml:"pid_file" mapstructure:"pid_file"`
}

// AgentConfig configures the agent executable.
type AgentConfig struct {
	// Backend selects the argument and output dialect: claude, gemini or codex.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=claude gemini codex"`

	// Binary is the executable name or path. Defaults to the backend name.
	Binary string `yaml:"binary,omitempty" mapstructure:"binary"`

	// Timeout bounds each invocation (e.g., "120s").
	Timeout string `yaml:"timeout" mapstructure:"timeout"`

	// WorkingDirectory is used when a request names none. Defaults to the
	// user's home directory.
	WorkingDirectory string `yaml:"working_directory" mapstructure:"working_directory"`

	// MaxTurns is used when a request names none.
	MaxTurns int `yaml:"max_turns" mapstructure:"max_turns" validate:"gte=0,lte=1000"`

	// Model is used when a request names none. Empty means the agent's default.
	Model string `yaml:"model,omitempty" mapstructure:"model"`

	// MaxConcurrent caps simultaneous agent processes.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=0,lte=256"`

	// PathDirs replaces the default PATH search list of the child process.
	PathDirs []string `yaml:"path_dirs,omitempty" mapstructure:"path_dirs"`

	// PassEnv names host variables copied to the child when set.
	PassEnv []string `yaml:"pass_env,omitempty" mapstructure:"pass_env"`

	// Env sets extra variables on the child. PATH cannot be overridden.
	Env map[string]string `yaml:"env,omitempty" mapstructure:"env"`
}

// SessionConfig configures continuation token storage.
type SessionConfig struct {
	// Store selects the backing store: file, sqlite or memory.
	Store string `yaml:"store" mapstructure:"store" validate:"omitempty,oneof=file sqlite memory"`

	// Path is the store location. Defaults to ~/.clibridge/sessions.json
	// (file) or ~/.clibridge/sessions.db (sqlite).
	Path string `yaml:"path" mapstructure:"path"`

	// MaxAge is the idle duration after which a session expires (e.g., "24h").
	MaxAge string `yaml:"max_age" mapstructure:"max_age"`

	// SweepSchedule is a duration, "@every <duration>" or a cron expression.
	SweepSchedule string `yaml:"sweep_schedule" mapstructure:"sweep_schedule" validate:"omitempty,sweep_schedule"`
}

// DecoderConfig bounds result and error text, in runes.
type DecoderConfig struct {
	MaxResultChars int `yaml:"max_result_chars" mapstructure:"max_result_chars" validate:"gte=0"`
	MaxErrorChars  int `yaml:"max_error_chars" mapstructure:"max_error_chars" validate:"gte=0"`
}

// VaultConfig configures the credential unlock command. Unlock is
// disabled when Command is empty.
type VaultConfig struct {
	// Command is the unlock executable.
	Command string `yaml:"command,omitempty" mapstructure:"command"`

	// Args are passed verbatim; "{password}" is replaced by the value of
	// PasswordEnv.
	Args []string `yaml:"args,omitempty" mapstructure:"args"`

	// PasswordEnv names the host variable holding the vault password.
	PasswordEnv string `yaml:"password_env,omitempty" mapstructure:"password_env"`

	// Timeout bounds one unlock attempt (e.g., "10s").
	Timeout string `yaml:"timeout" mapstructure:"timeout"`

	// MinInterval skips unlocks within this long of the last success.
	MinInterval string `yaml:"min_interval,omitempty" mapstructure:"min_interval"`
}

// Enabled reports whether an unlock command is configured.
func (v VaultConfig) Enabled() bool {
	return v.Command != ""
}

// AuthConfig configures bearer authentication.
type AuthConfig struct {
	// APIKeys are accepted bearer keys. Empty disables authentication.
	APIKeys []APIKeyConfig `yaml:"api_keys,omitempty" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// APIKeyConfig is one accepted API key, stored as a hash.
type APIKeyConfig struct {
	// Name identifies the caller in logs.
	Name string `yaml:"name" mapstructure:"name"`
	// Hash is "sha256:<hex>" or an argon2id PHC string (see `clibridge hash-key`).
	Hash string `yaml:"hash" mapstructure:"hash" validate:"required,key_hash"`
}

// RateLimitConfig configures per-address rate limiting of the API.
type RateLimitConfig struct {
	// Enabled turns rate limiting on. Disabled by default since the
	// server binds to loopback.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Rate is the number of requests allowed per Period.
	Rate int `yaml:"rate" mapstructure:"rate" validate:"gte=0"`
	// Burst is how many requests may arrive at once. Defaults to Rate.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	// Period is the window for Rate (e.g., "1m").
	Period string `yaml:"period" mapstructure:"period"`
	// CleanupInterval is how often idle client entries are dropped.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	// MaxTTL is how long an idle client entry is kept.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl"`
}

// TelemetryConfig configures error reporting, tracing and metrics export.
type TelemetryConfig struct {
	// SentryDSN enables Sentry error reporting when set.
	SentryDSN string `yaml:"sentry_dsn,omitempty" mapstructure:"sentry_dsn" validate:"omitempty,url"`

	// Environment is reported to Sentry. Defaults to "production", or
	// "development" in dev mode.
	Environment string `yaml:"environment,omitempty" mapstructure:"environment"`

	// Traces exports spans to stdout.
	Traces bool `yaml:"traces" mapstructure:"traces"`

	// Metrics exports service metrics to stdout every MetricsInterval.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`

	// MetricsInterval is the stdout metric export period (e.g., "60s").
	MetricsInterval string `yaml:"metrics_interval" mapstructure:"metrics_interval"`
}

// SetDefaults applies default values to empty fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network access must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.PIDFile == "" {
		c.Server.PIDFile = filepath.Join(StateDir(), "clibridge.pid")
	}

	if c.Agent.Backend == "" {
		c.Agent.Backend = DefaultBackend
	}
	if c.Agent.Timeout == "" {
		c.Agent.Timeout = DefaultAgentTimeout
	}
	if c.Agent.WorkingDirectory == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Agent.WorkingDirectory = home
		}
	}
	if c.Agent.MaxTurns == 0 {
		c.Agent.MaxTurns = DefaultMaxTurns
	}
	if c.Agent.MaxConcurrent == 0 {
		c.Agent.MaxConcurrent = DefaultMaxConcurrent
	}

	if c.Session.Store == "" {
		c.Session.Store = DefaultSessionStore
	}
	if c.Session.Path == "" {
		name := "sessions.json"
		if c.Session.Store == "sqlite" {
			name = "sessions.db"
		}
		c.Session.Path = filepath.Join(StateDir(), name)
	}
	if c.Session.MaxAge == "" {
		c.Session.MaxAge = DefaultSessionMaxAge
	}
	if c.Session.SweepSchedule == "" {
		c.Session.SweepSchedule = DefaultSweepSchedule
	}

	if c.Decoder.MaxResultChars == 0 {
		c.Decoder.MaxResultChars = DefaultMaxResultChars
	}
	if c.Decoder.MaxErrorChars == 0 {
		c.Decoder.MaxErrorChars = DefaultMaxErrorChars
	}

	if c.Vault.Timeout == "" {
		c.Vault.Timeout = DefaultVaultTimeout
	}

	// Sub-defaults are filled even when disabled so enabling only needs the flag.
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = DefaultRateLimitRate
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.Rate
	}
	if c.RateLimit.Period == "" {
		c.RateLimit.Period = DefaultRateLimitPeriod
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.Telemetry.MetricsInterval == "" {
		c.Telemetry.MetricsInterval = DefaultMetricsInterval
	}
}

// SetDevDefaults applies dev mode overrides. It must run after any CLI flag
// has set DevMode and before Validate.
func (c *Config) SetDevDefaults() {
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "production"
		if c.DevMode {
			c.Telemetry.Environment = "development"
		}
	}
}

// StateDir returns ~/.clibridge, or .clibridge in the working directory
// when the home directory is unknown.
func StateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".clibridge"
	}
	return filepath.Join(home, ".clibridge")
}

// ParseDuration parses value, returning def and false when value is empty,
// unparseable or not positive.
func ParseDuration(value string, def time.Duration) (time.Duration, bool) {
	if value == "" {
		return def, true
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def, false
	}
	return d, true
}
