// Package logging builds the process logger: text on stderr, optionally
// fanned out to Sentry, with the request ID attached to every record that
// carries a request context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"

	"github.com/clibridge/clibridge/internal/ctxkey"
)

// Options configures New.
type Options struct {
	// Level is the minimum level written to Output.
	Level slog.Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// SentryDSN enables Sentry when set.
	SentryDSN string
	// Environment is reported to Sentry.
	Environment string
	// Release is reported to Sentry.
	Release string
}

// New returns the process logger and a flush function to call before exit.
// A Sentry init failure is logged and the logger falls back to Output only.
func New(opts Options) (*slog.Logger, func()) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	textHandler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level})
	noFlush := func() {}

	if opts.SentryDSN == "" {
		return slog.New(newRequestIDHandler(textHandler)), noFlush
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.SentryDSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		EnableLogs:  true,
	}); err != nil {
		slog.New(textHandler).Error("failed to initialize Sentry", "error", err)
		return slog.New(newRequestIDHandler(textHandler)), noFlush
	}

	// Errors become Sentry issues; warnings are kept as searchable logs.
	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	combined := newMultiHandler(textHandler, sentryHandler)
	flush := func() { sentry.Flush(2 * time.Second) }
	return slog.New(newRequestIDHandler(combined)), flush
}

// ParseLevel converts a config log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// requestIDHandler adds request_id from the context when the record does
// not come from a logger that already carries it.
type requestIDHandler struct {
	next   slog.Handler
	hasRID bool
}

func newRequestIDHandler(next slog.Handler) slog.Handler {
	return &requestIDHandler{next: next}
}

func (h *requestIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *requestIDHandler) Handle(ctx context.Context, rec slog.Record) error {
	if !h.hasRID && ctx != nil {
		if id, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok && id != "" {
			rec.AddAttrs(slog.String("request_id", id))
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	has := h.hasRID
	for _, a := range attrs {
		if a.Key == "request_id" {
			has = true
		}
	}
	return &requestIDHandler{next: h.next.WithAttrs(attrs), hasRID: has}
}

func (h *requestIDHandler) WithGroup(name string) slog.Handler {
	return &requestIDHandler{next: h.next.WithGroup(name), hasRID: h.hasRID}
}
