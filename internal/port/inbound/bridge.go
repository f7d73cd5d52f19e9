// Package inbound defines the service interface inbound adapters call.
package inbound

import (
	"context"

	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/domain/session"
)

// Bridge is the inbound port for the session bridge.
type Bridge interface {
	// Submit runs one message through the agent for req.UserID. The Result
	// is always populated; the error classifies failures for transport
	// status codes.
	Submit(ctx context.Context, req invocation.Request) (invocation.Result, error)

	// Reset forgets the user's conversation. Unknown users are a no-op.
	Reset(ctx context.Context, userID string) error

	// Session returns metadata or session.ErrSessionNotFound.
	Session(ctx context.Context, userID string) (session.Metadata, error)

	// Sessions lists metadata for every live session.
	Sessions(ctx context.Context) ([]session.Metadata, error)

	// DeleteSession removes the session and reports whether one existed.
	DeleteSession(ctx context.Context, userID string) (bool, error)

	// SessionCount returns the number of live sessions.
	SessionCount() int
}
