// Package ctxkey defines context key types shared by the transport and
// service layers. It imports no other internal package.
package ctxkey

// LoggerKey stores the request-scoped *slog.Logger carrying request_id.
type LoggerKey struct{}

// RequestIDKey stores the request ID string assigned by the HTTP middleware.
type RequestIDKey struct{}
