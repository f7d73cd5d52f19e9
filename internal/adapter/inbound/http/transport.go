package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clibridge/clibridge/internal/adapter/inbound/api"
	"github.com/clibridge/clibridge/internal/domain/auth"
	"github.com/clibridge/clibridge/internal/domain/ratelimit"
	"github.com/clibridge/clibridge/internal/port/inbound"
	"github.com/clibridge/clibridge/internal/service"
)

// DefaultAddr listens on loopback only.
const DefaultAddr = "127.0.0.1:8787"

// responseMargin caps the time reserved for writing a response after the
// request deadline.
const responseMargin = 5 * time.Second

// HTTPTransport is the inbound adapter that exposes a Bridge over HTTP.
type HTTPTransport struct {
	bridge          inbound.Bridge
	server          *http.Server
	addr            string
	allowedOrigins  []string
	certFile        string
	keyFile         string
	keys            *auth.KeySet
	stats           *service.StatsService
	version         string
	writeTimeout    time.Duration
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	registry        *prometheus.Registry
	logger          *slog.Logger
	healthChecker   *HealthChecker
	metrics         *Metrics
	limiter         ratelimit.Limiter
	limitCfg        ratelimit.Config

	mu       sync.Mutex
	listener net.Listener
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8787".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are refused.
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithAPIKeys enables bearer authentication on /v1/ routes.
func WithAPIKeys(keys *auth.KeySet) Option {
	return func(t *HTTPTransport) {
		t.keys = keys
	}
}

// WithStats exposes the given counters at /v1/stats.
func WithStats(stats *service.StatsService) Option {
	return func(t *HTTPTransport) {
		t.stats = stats
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(t *HTTPTransport) {
		t.version = version
	}
}

// WithWriteTimeout bounds writing a response. It must exceed the agent
// timeout. Zero disables the limit.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.writeTimeout = d
	}
}

// WithRequestTimeout bounds the time a /v1 handler may spend, including
// waits for the user lock and an agent slot. It is clamped below the
// write timeout so the handler still has time to write its result.
// Zero derives it from the write timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.requestTimeout = d
	}
}

// WithShutdownTimeout bounds graceful shutdown. Default is 10 seconds.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.shutdownTimeout = d
		}
	}
}

// WithRegistry sets the Prometheus registry served at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithRateLimit limits /v1 requests per client address. A nil limiter
// disables rate limiting.
func WithRateLimit(limiter ratelimit.Limiter, cfg ratelimit.Config) Option {
	return func(t *HTTPTransport) {
		t.limiter = limiter
		t.limitCfg = cfg
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// NewHTTPTransport creates an HTTP transport for bridge.
func NewHTTPTransport(bridge inbound.Bridge, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		bridge:          bridge,
		addr:            DefaultAddr,
		allowedOrigins:  []string{},
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if t.healthChecker == nil {
		t.healthChecker = NewHealthChecker(bridge.SessionCount, t.version, time.Now())
	}
	t.metrics = NewMetrics(t.registry, bridge.SessionCount)

	return t
}

// RequestTimeout returns the deadline applied to /v1 handlers. Zero
// means no deadline.
func (t *HTTPTransport) RequestTimeout() time.Duration {
	return effectiveRequestTimeout(t.requestTimeout, t.writeTimeout)
}

// effectiveRequestTimeout keeps request inside write, leaving a margin
// of a tenth of write, capped at responseMargin.
func effectiveRequestTimeout(request, write time.Duration) time.Duration {
	if write <= 0 {
		return max(request, 0)
	}
	limit := write - min(write/10, responseMargin)
	if request <= 0 || request > limit {
		return limit
	}
	return request
}

// Metrics returns the transport's Prometheus metrics.
func (t *HTTPTransport) Metrics() *Metrics {
	return t.metrics
}

// Handler builds the routed, middleware-wrapped handler.
func (t *HTTPTransport) Handler() http.Handler {
	apiHandler := api.NewHandler(
		instrumentedBridge{Bridge: t.bridge, metrics: t.metrics},
		api.WithStats(t.stats),
		api.WithLogger(t.logger),
	).Routes()

	// Outermost first: Metrics -> RequestID -> DNSRebinding -> RateLimit -> APIKeyAuth -> RequestDeadline -> API
	apiHandler = RequestDeadline(t.RequestTimeout())(apiHandler)
	apiHandler = APIKeyAuth(t.keys)(apiHandler)
	apiHandler = RateLimitMiddleware(t.limiter, t.limitCfg, t.metrics.RateLimited)(apiHandler)
	apiHandler = DNSRebindingProtection(t.allowedOrigins)(apiHandler)
	apiHandler = RequestIDMiddleware(t.logger)(apiHandler)
	apiHandler = MetricsMiddleware(t.metrics)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", apiHandler)
	mux.Handle("GET /health", t.healthChecker.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	return mux
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or the server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      t.writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	tlsEnabled := t.certFile != "" && t.keyFile != ""
	if tlsEnabled {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	errCh := make(chan error, 1)

	go func() {
		var err error
		if tlsEnabled {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = t.server.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = t.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Addr returns the bound listen address once Start has begun listening.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
