// Package outbound defines the ports the bridge uses to reach the agent
// executable and the host's credential vault.
package outbound

import (
	"context"
	"time"

	"github.com/clibridge/clibridge/internal/domain/invocation"
)

// Command is one fully resolved agent invocation.
type Command struct {
	// Name is the executable name or absolute path.
	Name string
	// Args excludes the executable itself.
	Args []string
	// Dir is the working directory of the child process.
	Dir string
	// Timeout bounds the run. Zero means the runner's default.
	Timeout time.Duration
}

// Runner spawns a child process and waits for it.
type Runner interface {
	// Run executes cmd with stdin closed and returns its captured output.
	// A non-zero exit is reported in Output, not as an error. Errors wrap
	// invocation.ErrSpawn or invocation.ErrTimeout.
	Run(ctx context.Context, cmd Command) (invocation.Output, error)
}

// Backend describes how to talk to one agent executable.
type Backend interface {
	// Name identifies the backend in config and in stored sessions.
	Name() string

	// Args builds the argument vector for req. An empty resumeToken starts
	// a new conversation.
	Args(req invocation.Request, resumeToken string) []string

	// Parse reads the backend's structured stdout.
	Parse(stdout []byte) (invocation.Document, error)
}
