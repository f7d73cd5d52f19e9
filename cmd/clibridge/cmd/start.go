package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clibridge/clibridge/internal/adapter/inbound/http"
	"github.com/clibridge/clibridge/internal/adapter/outbound/agentcli"
	"github.com/clibridge/clibridge/internal/adapter/outbound/memory"
	"github.com/clibridge/clibridge/internal/adapter/outbound/sqlite"
	"github.com/clibridge/clibridge/internal/adapter/outbound/state"
	"github.com/clibridge/clibridge/internal/adapter/outbound/vault"
	"github.com/clibridge/clibridge/internal/config"
	"github.com/clibridge/clibridge/internal/domain/auth"
	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/domain/ratelimit"
	"github.com/clibridge/clibridge/internal/domain/session"
	"github.com/clibridge/clibridge/internal/logging"
	"github.com/clibridge/clibridge/internal/port/outbound"
	"github.com/clibridge/clibridge/internal/service"
	"github.com/clibridge/clibridge/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge server",
	Long: `Start the clibridge HTTP server.

The server listens on server.http_addr (default 127.0.0.1:8787) and runs
the configured agent for every POST /v1/messages.

Examples:
  # Start with config file settings
  clibridge start

  # Start with debug logging
  clibridge start --dev

  # Start with a specific config file
  clibridge --config /path/to/clibridge.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger, flush := logging.New(logging.Options{
		Level:       logging.ParseLevel(cfg.Server.LogLevel),
		SentryDSN:   cfg.Telemetry.SentryDSN,
		Environment: cfg.Telemetry.Environment,
		Release:     "clibridge@" + Version,
	})
	defer flush()

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := cfg.Server.PIDFile
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("clibridge exited with error", "error", err)
		return err
	}

	logger.Info("clibridge stopped")
	return nil
}

// run wires every component and blocks until ctx is cancelled or a
// component fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	agentTimeout := durationOrDefault(logger, "agent.timeout", cfg.Agent.Timeout, agentcli.DefaultTimeout)
	maxAge := durationOrDefault(logger, "session.max_age", cfg.Session.MaxAge, session.DefaultMaxAge)
	shutdownTimeout := durationOrDefault(logger, "server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)
	requestTimeout := durationOrDefault(logger, "server.request_timeout", cfg.Server.RequestTimeout, 2*agentTimeout)

	store, closeStore, err := openSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	sessions := session.NewService(store, session.Config{MaxAge: maxAge})

	backend, err := agentcli.Backend(cfg.Agent.Backend)
	if err != nil {
		return err
	}
	runner := agentcli.NewRunner(
		agentcli.WithEnv(agentcli.Env{
			PathDirs: cfg.Agent.PathDirs,
			PassEnv:  cfg.Agent.PassEnv,
			Set:      cfg.Agent.Env,
		}),
		agentcli.WithTimeout(agentTimeout),
		agentcli.WithLogger(logger),
	)

	binary := cfg.Agent.Binary
	if binary == "" {
		binary = backend.Name()
	}
	if path, err := runner.LookPath(binary); err != nil {
		// Not fatal: the tool may be installed after the server starts.
		logger.Warn("agent executable not found on the child PATH", "binary", binary, "error", err)
	} else {
		logger.Info("agent executable resolved", "backend", backend.Name(), "path", path)
	}

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     "clibridge",
		ServiceVersion:  Version,
		Traces:          cfg.Telemetry.Traces,
		Metrics:         cfg.Telemetry.Metrics,
		MetricsInterval: durationOrDefault(logger, "telemetry.metrics_interval", cfg.Telemetry.MetricsInterval, telemetry.DefaultMetricsInterval),
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	stats := service.NewStatsService()
	bridge, err := service.NewBridgeService(sessions, backend, runner,
		service.BridgeConfig{
			Binary:  binary,
			Timeout: agentTimeout,
			Defaults: invocation.Defaults{
				UserID:           invocation.DefaultUserID,
				WorkingDirectory: cfg.Agent.WorkingDirectory,
				MaxTurns:         cfg.Agent.MaxTurns,
				Model:            cfg.Agent.Model,
			},
			Limits: invocation.Limits{
				MaxResultChars: cfg.Decoder.MaxResultChars,
				MaxErrorChars:  cfg.Decoder.MaxErrorChars,
			},
			MaxConcurrent: cfg.Agent.MaxConcurrent,
		},
		service.WithUnlocker(newUnlocker(cfg.Vault, runner, logger)),
		service.WithStats(stats),
		service.WithTracer(providers.Tracer),
		service.WithMeter(providers.Meter),
		service.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	schedule, err := service.ParseSweepSchedule(cfg.Session.SweepSchedule)
	if err != nil {
		return fmt.Errorf("invalid session.sweep_schedule: %w", err)
	}
	sweeper := service.NewSweeper(sessions,
		service.WithSchedule(schedule),
		service.WithSweeperLogger(logger),
	)

	keys, err := auth.NewKeySet(apiKeys(cfg.Auth.APIKeys))
	if err != nil {
		return fmt.Errorf("invalid auth.api_keys: %w", err)
	}

	transportOpts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithAPIKeys(keys),
		http.WithStats(stats),
		http.WithVersion(Version),
		http.WithRequestTimeout(requestTimeout),
		// The handler answers at requestTimeout; the write deadline trails it.
		http.WithWriteTimeout(requestTimeout + 10*time.Second),
		http.WithShutdownTimeout(shutdownTimeout),
		http.WithLogger(logger),
		http.WithHealthChecker(http.NewHealthChecker(bridge.SessionCount, Version, startTime)),
	}
	if cfg.RateLimit.Enabled {
		limiter := memory.NewRateLimiter(
			memory.WithCleanup(
				durationOrDefault(logger, "rate_limit.cleanup_interval", cfg.RateLimit.CleanupInterval, memory.DefaultRateLimitCleanupInterval),
				durationOrDefault(logger, "rate_limit.max_ttl", cfg.RateLimit.MaxTTL, memory.DefaultRateLimitMaxTTL),
			),
			memory.WithRateLimiterLogger(logger),
		)
		limiter.StartCleanup(ctx)
		defer limiter.Stop()
		transportOpts = append(transportOpts, http.WithRateLimit(limiter, ratelimit.Config{
			Rate:   cfg.RateLimit.Rate,
			Burst:  cfg.RateLimit.Burst,
			Period: durationOrDefault(logger, "rate_limit.period", cfg.RateLimit.Period, time.Minute),
		}))
	}
	if cfg.Server.TLSCertFile != "" {
		transportOpts = append(transportOpts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	transport := http.NewHTTPTransport(bridge, transportOpts...)

	logger.Info("clibridge starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", backend.Name(),
		"store", cfg.Session.Store,
		"sessions", sessions.Count(),
		"max_age", maxAge,
		"sweep_schedule", cfg.Session.SweepSchedule,
		"auth", keys.Len() > 0,
		"rate_limit", cfg.RateLimit.Enabled,
		"vault", cfg.Vault.Enabled(),
	)
	printBanner(cfg.Server.HTTPAddr, backend.Name(), cfg.Server.TLSCertFile != "", keys.Len() > 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		if err := transport.Start(gctx); err != nil {
			return fmt.Errorf("http transport: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// openSessionStore opens the configured store and returns a close func.
func openSessionStore(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger) (session.Store, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case "memory":
		logger.Warn("session store is in memory; sessions are lost on restart")
		return memory.NewSessionStore(), noop, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Path, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open session database: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("failed to close session database", "error", err)
			}
		}, nil
	case "file", "":
		s, err := state.Open(cfg.Path, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open session file: %w", err)
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// newUnlocker returns the configured vault unlocker, or a no-op when none
// is configured.
func newUnlocker(cfg config.VaultConfig, runner outbound.Runner, logger *slog.Logger) outbound.Unlocker {
	if !cfg.Enabled() {
		return vault.NoopUnlocker{}
	}
	opts := []vault.Option{
		vault.WithTimeout(durationOrDefault(logger, "vault.timeout", cfg.Timeout, vault.DefaultTimeout)),
	}
	if cfg.PasswordEnv != "" {
		opts = append(opts, vault.WithPasswordEnv(cfg.PasswordEnv))
	}
	if cfg.MinInterval != "" {
		opts = append(opts, vault.WithMinInterval(durationOrDefault(logger, "vault.min_interval", cfg.MinInterval, 0)))
	}
	logger.Info("vault unlock enabled", "command", cfg.Command)
	return vault.NewCommandUnlocker(runner, cfg.Command, cfg.Args, opts...)
}

func apiKeys(cfgKeys []config.APIKeyConfig) []auth.Key {
	keys := make([]auth.Key, 0, len(cfgKeys))
	for _, k := range cfgKeys {
		keys = append(keys, auth.Key{Name: k.Name, Hash: k.Hash})
	}
	return keys
}

// durationOrDefault parses a config duration, logging a warning and
// returning def when the value is unusable.
func durationOrDefault(logger *slog.Logger, key, value string, def time.Duration) time.Duration {
	d, ok := config.ParseDuration(value, def)
	if !ok {
		logger.Warn("invalid duration, using default", "key", key, "value", value, "default", def)
	}
	return d
}

// printBanner prints a short startup banner to stderr.
func printBanner(httpAddr, backend string, tlsEnabled, authEnabled bool) {
	const (
		reset = "\033[0m"
		bold  = "\033[1m"
		cyan  = "\033[36m"
		dim   = "\033[2m"
	)
	scheme := "http"
	if tlsEnabled {
		scheme = "https"
	}
	host := httpAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	authState := "off"
	if authEnabled {
		authState = "bearer API key"
	}

	fmt.Fprintf(os.Stderr, "\n%s%sclibridge%s %s\n", bold, cyan, reset, Version)
	fmt.Fprintf(os.Stderr, "  Messages:  %s://%s/v1/messages\n", scheme, host)
	fmt.Fprintf(os.Stderr, "  Health:    %s://%s/health\n", scheme, host)
	fmt.Fprintf(os.Stderr, "  Backend:   %s\n", backend)
	fmt.Fprintf(os.Stderr, "  Auth:      %s\n", authState)
	fmt.Fprintf(os.Stderr, "%s  Press Ctrl+C to stop%s\n\n", dim, reset)
}

// errServerRunning is returned by offline store commands while the server
// holds the store.
var errServerRunning = errors.New("the clibridge server is running; stop it first or use the HTTP API")
