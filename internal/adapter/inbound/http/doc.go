// Package http provides the HTTP transport for the session bridge.
//
// # Usage
//
//	transport := http.NewHTTPTransport(bridge,
//	    http.WithAddr("127.0.0.1:8787"),
//	    http.WithAPIKeys(keys),
//	    http.WithStats(stats),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST   /v1/messages            - Run one message through the agent
//	POST   /v1/reset               - Forget a user's conversation
//	GET    /v1/sessions            - List live sessions
//	GET    /v1/sessions/{user_id}  - Session metadata, 404 when absent
//	DELETE /v1/sessions/{user_id}  - Delete a session (idempotent)
//	GET    /v1/stats               - Invocation counters and cost
//	GET    /health                 - Liveness, uptime and live session count
//	GET    /metrics                - Prometheus exposition
//
// # Middleware Chain
//
// Requests under /v1/ pass through, outermost first:
//
//  1. MetricsMiddleware - Records duration and status per route
//  2. RequestIDMiddleware - Extracts or generates X-Request-ID and enriches the logger
//  3. DNSRebindingProtection - Validates the Origin header
//  4. RateLimitMiddleware - Per-address GCRA limit, when WithRateLimit is set
//  5. APIKeyAuth - Requires a bearer key when keys are configured
//  6. RequestDeadline - Bounds the handler, queueing included, below the write timeout
//
// /health and /metrics are never authenticated or throttled.
//
// # Security
//
// The default listen address is loopback only. TLS 1.2 is the minimum
// when WithTLS is set.
package http
