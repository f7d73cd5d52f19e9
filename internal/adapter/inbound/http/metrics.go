package http

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/port/inbound"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Submissions     *prometheus.CounterVec
	AgentDuration   *prometheus.HistogramVec
	ActiveSessions  prometheus.GaugeFunc
	RateLimited     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
// sessionCount backs the active_sessions gauge; nil reports zero.
func NewMetrics(reg prometheus.Registerer, sessionCount func() int) *Metrics {
	if sessionCount == nil {
		sessionCount = func() int { return 0 }
	}
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clibridge",
				Name:      "http_requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "route", "status"}, // status=ok/client_error/server_error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clibridge",
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Submissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clibridge",
				Name:      "submissions_total",
				Help:      "Submitted messages by outcome",
			},
			[]string{"outcome"},
		),
		AgentDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clibridge",
				Name:      "submission_duration_seconds",
				Help:      "End-to-end duration of submitted messages",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		ActiveSessions: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "clibridge",
				Name:      "active_sessions",
				Help:      "Number of stored sessions",
			},
			func() float64 { return float64(sessionCount()) },
		),
		RateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "clibridge",
				Name:      "rate_limited_total",
				Help:      "API requests rejected by the rate limiter",
			},
		),
	}
}

// submissionOutcome maps a Submit result to a metric label.
func submissionOutcome(res invocation.Result, err error) string {
	switch {
	case errors.Is(err, invocation.ErrValidation):
		return "invalid"
	case errors.Is(err, invocation.ErrTimeout):
		return "timeout"
	case errors.Is(err, invocation.ErrSpawn):
		return "spawn_error"
	case errors.Is(err, invocation.ErrDecode):
		return "failed"
	case err != nil:
		return "error"
	case res.Degraded:
		return "degraded"
	default:
		return "decoded"
	}
}

// instrumentedBridge records submission metrics around a Bridge.
type instrumentedBridge struct {
	inbound.Bridge
	metrics *Metrics
}

func (b instrumentedBridge) Submit(ctx context.Context, req invocation.Request) (invocation.Result, error) {
	start := time.Now()
	res, err := b.Bridge.Submit(ctx, req)
	outcome := submissionOutcome(res, err)
	b.metrics.Submissions.WithLabelValues(outcome).Inc()
	b.metrics.AgentDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res, err
}
