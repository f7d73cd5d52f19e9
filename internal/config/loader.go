package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for clibridge.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the clibridge binary in
// the working directory is never mistaken for a config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, which callers ignore.
		viper.SetConfigName("clibridge")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: CLIBRIDGE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("CLIBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for clibridge.yaml or .yml.
func findConfigFile() string {
	paths := []string{".", StateDir()}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "clibridge"))
		}
	} else {
		paths = append(paths, "/etc/clibridge")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for clibridge.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "clibridge"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists every scalar key that can be overridden from the environment.
// Example: CLIBRIDGE_AGENT_TIMEOUT overrides agent.timeout.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.tls_cert_file",
	"server.tls_key_file",
	"server.shutdown_timeout",
	"server.request_timeout",
	"server.pid_file",

	"agent.backend",
	"agent.binary",
	"agent.timeout",
	"agent.working_directory",
	"agent.max_turns",
	"agent.model",
	"agent.max_concurrent",

	"session.store",
	"session.path",
	"session.max_age",
	"session.sweep_schedule",

	"decoder.max_result_chars",
	"decoder.max_error_chars",

	"vault.command",
	"vault.password_env",
	"vault.timeout",
	"vault.min_interval",

	"rate_limit.enabled",
	"rate_limit.rate",
	"rate_limit.burst",
	"rate_limit.period",
	"rate_limit.cleanup_interval",
	"rate_limit.max_ttl",

	"telemetry.sentry_dsn",
	"telemetry.environment",
	"telemetry.traces",
	"telemetry.metrics",
	"telemetry.metrics_interval",

	"dev_mode",
}

// bindNestedEnvKeys binds nested keys for environment variable support.
// Lists and maps (allowed_origins, path_dirs, env, auth.api_keys) are
// config-file only.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: run on environment variables and defaults.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
