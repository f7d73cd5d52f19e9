package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/clibridge/clibridge/internal/domain/auth"
)

// RegisterCustomValidators registers clibridge-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("sweep_schedule", validateSweepSchedule); err != nil {
		return fmt.Errorf("failed to register sweep_schedule validator: %w", err)
	}
	if err := v.RegisterValidation("key_hash", validateKeyHash); err != nil {
		return fmt.Errorf("failed to register key_hash validator: %w", err)
	}
	return nil
}

// validateSweepSchedule accepts a positive Go duration or any expression
// understood by cron.ParseStandard ("@every 30m", "0 * * * *").
func validateSweepSchedule(fl validator.FieldLevel) bool {
	expr := strings.TrimSpace(fl.Field().String())
	if d, err := time.ParseDuration(expr); err == nil {
		return d > 0
	}
	_, err := cron.ParseStandard(expr)
	return err == nil
}

// validateKeyHash accepts "sha256:<64 hex>" or an argon2id PHC string.
func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashUnknown
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateDurations(); err != nil {
		return err
	}

	if err := c.validateVault(); err != nil {
		return err
	}

	return c.validateAgentEnv()
}

// validateDurations rejects durations that are set but unparseable. Empty
// values fall back to defaults.
func (c *Config) validateDurations() error {
	fields := []struct {
		name  string
		value string
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"server.request_timeout", c.Server.RequestTimeout},
		{"agent.timeout", c.Agent.Timeout},
		{"session.max_age", c.Session.MaxAge},
		{"vault.timeout", c.Vault.Timeout},
		{"vault.min_interval", c.Vault.MinInterval},
		{"rate_limit.period", c.RateLimit.Period},
		{"rate_limit.cleanup_interval", c.RateLimit.CleanupInterval},
		{"rate_limit.max_ttl", c.RateLimit.MaxTTL},
		{"telemetry.metrics_interval", c.Telemetry.MetricsInterval},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", f.name, f.value)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %q", f.name, f.value)
		}
	}
	return nil
}

// validateVault requires a command whenever other vault settings are given.
func (c *Config) validateVault() error {
	if c.Vault.Command != "" {
		return nil
	}
	if len(c.Vault.Args) > 0 || c.Vault.PasswordEnv != "" {
		return errors.New("vault: args and password_env require command")
	}
	return nil
}

// validateAgentEnv forbids overriding PATH through agent.env; use
// agent.path_dirs instead.
func (c *Config) validateAgentEnv() error {
	for k := range c.Agent.Env {
		if strings.EqualFold(k, "PATH") {
			return errors.New("agent.env: PATH cannot be set here, use agent.path_dirs")
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "sweep_schedule":
		return fmt.Sprintf("%s must be a duration, '@every <duration>' or a cron expression", field)
	case "key_hash":
		return fmt.Sprintf("%s must be 'sha256:<hex>' or an argon2id hash (see 'clibridge hash-key')", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
