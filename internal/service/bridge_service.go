package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/clibridge/clibridge/internal/ctxkey"
	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/domain/session"
	"github.com/clibridge/clibridge/internal/port/inbound"
	"github.com/clibridge/clibridge/internal/port/outbound"
)

// DefaultMaxConcurrent caps simultaneous agent processes across all users.
const DefaultMaxConcurrent = 8

const instrumentationName = "github.com/clibridge/clibridge/internal/service"

// loggerFromContext retrieves the enriched logger from context.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

type noopUnlocker struct{}

func (noopUnlocker) Unlock(context.Context) error { return nil }

// BridgeConfig holds the invocation settings of a BridgeService.
type BridgeConfig struct {
	// Binary is the agent executable name or path. Empty means the backend name.
	Binary string
	// Timeout bounds each agent run. Zero means the runner's default.
	Timeout time.Duration
	// Defaults fill unset request fields.
	Defaults invocation.Defaults
	// Limits bound result and error text.
	Limits invocation.Limits
	// MaxConcurrent caps simultaneous agent processes. Default: 8.
	MaxConcurrent int
}

// BridgeService runs messages through the agent executable and keeps each
// user's continuation token between runs.
type BridgeService struct {
	sessions *session.Service
	backend  outbound.Backend
	runner   outbound.Runner
	unlocker outbound.Unlocker
	chain    *invocation.Chain
	cfg      BridgeConfig

	locks *userLocks
	slots *semaphore.Weighted

	stats  *StatsService
	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger

	invocations metric.Int64Counter
	duration    metric.Float64Histogram
}

// Compile-time check that BridgeService implements inbound.Bridge.
var _ inbound.Bridge = (*BridgeService)(nil)

// BridgeOption configures a BridgeService.
type BridgeOption func(*BridgeService)

// WithUnlocker sets the credential unlock step. Default: no unlock.
func WithUnlocker(u outbound.Unlocker) BridgeOption {
	return func(s *BridgeService) {
		if u != nil {
			s.unlocker = u
		}
	}
}

// WithStats sets the stats collector.
func WithStats(stats *StatsService) BridgeOption {
	return func(s *BridgeService) {
		if stats != nil {
			s.stats = stats
		}
	}
}

// WithTracer sets the tracer. Default: the global tracer provider.
func WithTracer(t trace.Tracer) BridgeOption {
	return func(s *BridgeService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMeter sets the meter. Default: the global meter provider.
func WithMeter(m metric.Meter) BridgeOption {
	return func(s *BridgeService) {
		if m != nil {
			s.meter = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(s *BridgeService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewBridgeService wires a BridgeService. sessions, backend and runner are
// required.
func NewBridgeService(sessions *session.Service, backend outbound.Backend, runner outbound.Runner, cfg BridgeConfig, opts ...BridgeOption) (*BridgeService, error) {
	if sessions == nil || backend == nil || runner == nil {
		return nil, errors.New("bridge service: sessions, backend and runner are required")
	}
	if cfg.Binary == "" {
		cfg.Binary = backend.Name()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	s := &BridgeService{
		sessions: sessions,
		backend:  backend,
		runner:   runner,
		unlocker: noopUnlocker{},
		chain:    invocation.DefaultChain(backend.Parse, cfg.Limits),
		cfg:      cfg,
		locks:    newUserLocks(),
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		stats:    NewStatsService(),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.invocations, err = s.meter.Int64Counter("clibridge.invocations",
		metric.WithDescription("Agent invocations by outcome"),
		metric.WithUnit("{invocation}"))
	if err != nil {
		return nil, fmt.Errorf("create invocation counter: %w", err)
	}
	s.duration, err = s.meter.Float64Histogram("clibridge.invocation.duration",
		metric.WithDescription("Wall-clock duration of agent invocations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return s, nil
}

// Stats returns the service's stats collector.
func (s *BridgeService) Stats() *StatsService {
	return s.stats
}

// Backend returns the configured backend name.
func (s *BridgeService) Backend() string {
	return s.backend.Name()
}

// Submit runs one message through the agent for req.UserID.
//
// The resume decision, the run and the session update happen under the
// user's lock, so submits for one user are applied in arrival order.
// The returned Result is always populated; a non-nil error wraps one of
// the invocation failure classes.
func (s *BridgeService) Submit(ctx context.Context, req invocation.Request) (invocation.Result, error) {
	start := time.Now()
	s.stats.RecordSubmit()

	req = req.WithDefaults(s.cfg.Defaults)

	ctx, span := s.tracer.Start(ctx, "bridge.submit",
		trace.WithAttributes(
			attribute.String("clibridge.user_id", req.UserID),
			attribute.String("clibridge.backend", s.backend.Name()),
			attribute.Bool("clibridge.force_new_session", req.ForceNewSession),
		))
	defer span.End()

	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}
	logger = logger.With("invocation_id", uuid.NewString(), "user_id", req.UserID)

	if err := req.Validate(); err != nil {
		s.stats.RecordValidationError()
		s.observe(ctx, "invalid", time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return invocation.Failure(err, time.Since(start), s.errorChars()), err
	}

	release, err := s.locks.Acquire(ctx, req.UserID)
	if err != nil {
		return s.fail(ctx, span, start, fmt.Errorf("wait for user lock: %w", err))
	}
	defer release()

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return s.fail(ctx, span, start, fmt.Errorf("wait for agent slot: %w", err))
	}
	defer s.slots.Release(1)

	var token string
	if !req.ForceNewSession {
		token, err = s.sessions.ResumeToken(ctx, req.UserID, s.backend.Name())
		if err != nil {
			logger.Warn("session lookup failed, starting a new conversation", "error", err)
			token = ""
		}
	}
	span.SetAttributes(attribute.Bool("clibridge.resumed", token != ""))

	if err := s.unlocker.Unlock(ctx); err != nil {
		logger.Warn("credential unlock failed, continuing", "error", err)
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("request expired before the agent started", "error", err)
		return s.fail(ctx, span, start, fmt.Errorf("request expired before the agent started: %w", err))
	}

	cmd := outbound.Command{
		Name:    s.cfg.Binary,
		Args:    s.backend.Args(req, token),
		Dir:     req.WorkingDirectory,
		Timeout: s.cfg.Timeout,
	}
	logger.Debug("invoking agent", "binary", cmd.Name, "dir", cmd.Dir, "resume", token != "")

	out, err := s.runner.Run(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, invocation.ErrTimeout):
			s.stats.RecordTimeout()
			logger.Warn("agent timed out", "error", err)
		case errors.Is(err, invocation.ErrSpawn):
			s.stats.RecordSpawnError()
			logger.Error("agent could not be started", "error", err)
		default:
			logger.Warn("agent run aborted", "error", err)
		}
		return s.fail(ctx, span, start, err)
	}

	outcome := s.chain.Decode(out)
	s.stats.RecordOutcome(outcome)
	span.SetAttributes(
		attribute.Int("clibridge.exit_code", out.ExitCode),
		attribute.String("clibridge.decode_tier", outcome.Tier),
		attribute.String("clibridge.outcome", outcome.Tag.String()),
	)
	s.observe(ctx, outcome.Tag.String(), time.Since(start))

	if outcome.Tag == invocation.Failed {
		logger.Warn("agent produced no usable output",
			"exit_code", out.ExitCode, "tier", outcome.Tier, "duration", out.Duration)
		span.SetStatus(codes.Error, outcome.Result.Error)
		return outcome.Result, outcome.Err
	}

	if outcome.Result.SessionToken != "" {
		// The agent already ran; the caller leaving must not lose the token.
		persistCtx := context.WithoutCancel(ctx)
		if _, err := s.sessions.Record(persistCtx, req.UserID, s.backend.Name(), outcome.Result.SessionToken, req.ForceNewSession); err != nil {
			s.stats.RecordPersistenceError()
			logger.Error("failed to persist session", "error", err)
			span.RecordError(err)
		}
	}

	logger.Info("agent invocation completed",
		"tag", outcome.Tag.String(),
		"tier", outcome.Tier,
		"exit_code", out.ExitCode,
		"duration_ms", outcome.Result.DurationMs)

	return outcome.Result, nil
}

func (s *BridgeService) fail(ctx context.Context, span trace.Span, start time.Time, err error) (invocation.Result, error) {
	elapsed := time.Since(start)
	outcome := "error"
	switch {
	case errors.Is(err, invocation.ErrTimeout):
		outcome = "timeout"
	case errors.Is(err, invocation.ErrSpawn):
		outcome = "spawn_error"
	}
	s.observe(ctx, outcome, elapsed)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return invocation.Failure(err, elapsed, s.errorChars()), err
}

func (s *BridgeService) observe(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("backend", s.backend.Name()),
		attribute.String("outcome", outcome),
	)
	s.invocations.Add(ctx, 1, attrs)
	s.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (s *BridgeService) errorChars() int {
	if s.cfg.Limits.MaxErrorChars > 0 {
		return s.cfg.Limits.MaxErrorChars
	}
	return invocation.DefaultMaxErrorChars
}

// Reset forgets the conversation for userID. An empty userID means the
// default user; a user without a session is a no-op.
func (s *BridgeService) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		userID = invocation.DefaultUserID
	}
	_, err := s.DeleteSession(ctx, userID)
	return err
}

// Session returns metadata for userID or session.ErrSessionNotFound.
func (s *BridgeService) Session(ctx context.Context, userID string) (session.Metadata, error) {
	return s.sessions.Metadata(ctx, userID)
}

// Sessions lists metadata for every live session.
func (s *BridgeService) Sessions(ctx context.Context) ([]session.Metadata, error) {
	return s.sessions.List(ctx)
}

// DeleteSession removes the session for userID and reports whether one
// existed. It waits for any in-flight submit of the same user.
func (s *BridgeService) DeleteSession(ctx context.Context, userID string) (bool, error) {
	release, err := s.locks.Acquire(ctx, userID)
	if err != nil {
		return false, err
	}
	defer release()

	deleted, err := s.sessions.Delete(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("delete session %q: %w", userID, err)
	}
	if deleted {
		s.logger.Info("session deleted", "user_id", userID)
	}
	return deleted, nil
}

// SessionCount returns the number of live sessions.
func (s *BridgeService) SessionCount() int {
	return s.sessions.Count()
}
