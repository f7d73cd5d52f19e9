package outbound

import "context"

// Unlocker makes host credentials available to the agent executable.
type Unlocker interface {
	// Unlock is attempted before every invocation. Callers treat errors as
	// warnings.
	Unlock(ctx context.Context) error
}
