package invocation

import "errors"

// Failure classes for a single invocation. Concrete errors wrap one of
// these; callers branch with errors.Is.
var (
	// ErrValidation means the request was rejected before anything ran.
	ErrValidation = errors.New("invalid request")

	// ErrSpawn means the agent executable could not be started.
	ErrSpawn = errors.New("agent could not be started")

	// ErrTimeout means the agent exceeded its wall-clock budget and was killed.
	ErrTimeout = errors.New("agent timed out")

	// ErrDecode means the agent produced no usable output.
	ErrDecode = errors.New("agent produced no usable output")
)
