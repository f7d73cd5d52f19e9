// Package agentcli runs agent command-line executables and translates
// between bridge requests and each agent's flags and output format.
package agentcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/port/outbound"
)

// DefaultTimeout bounds a run when neither the command nor the runner set one.
const DefaultTimeout = 120 * time.Second

// DefaultWaitDelay is how long Wait keeps reading output after the process
// group has been killed.
const DefaultWaitDelay = 5 * time.Second

// Runner spawns agent processes with a closed stdin, captured output, an
// explicit environment and a wall-clock bound.
type Runner struct {
	env       Env
	environ   []string
	timeout   time.Duration
	waitDelay time.Duration
	logger    *slog.Logger
}

// Compile-time check that Runner implements outbound.Runner.
var _ outbound.Runner = (*Runner)(nil)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEnv sets the child environment description.
func WithEnv(env Env) RunnerOption {
	return func(r *Runner) { r.env = env }
}

// WithTimeout sets the default wall-clock bound.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithWaitDelay sets how long to wait for output pipes after a kill.
func WithWaitDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.waitDelay = d }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner. The environment is computed once here.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		timeout:   DefaultTimeout,
		waitDelay: DefaultWaitDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.environ = r.env.Build(os.LookupEnv)
	return r
}

// Environ returns the environment every child receives.
func (r *Runner) Environ() []string {
	return append([]string(nil), r.environ...)
}

// Run executes c and waits for it to exit.
func (r *Runner) Run(ctx context.Context, c outbound.Command) (invocation.Output, error) {
	path, err := r.LookPath(c.Name)
	if err != nil {
		return invocation.Output{}, fmt.Errorf("%w: %w", invocation.ErrSpawn, err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = r.environ
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return invocation.Output{}, fmt.Errorf("%w: %w", invocation.ErrSpawn, err)
	}
	r.logger.Debug("agent started", "path", path, "pid", cmd.Process.Pid, "dir", c.Dir, "timeout", timeout)

	waitErr := cmd.Wait()
	out := invocation.Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if waitErr != nil && ctx.Err() != nil {
		return out, fmt.Errorf("agent run canceled: %w", ctx.Err())
	}
	if waitErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%w after %s", invocation.ErrTimeout, timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		out.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// Exited, but a descendant held the output pipes open.
		out.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return out, fmt.Errorf("%w: %w", invocation.ErrSpawn, waitErr)
	}

	r.logger.Debug("agent exited",
		"pid", cmd.Process.Pid,
		"exit_code", out.ExitCode,
		"stdout_bytes", len(out.Stdout),
		"stderr_bytes", len(out.Stderr),
		"duration", out.Duration)
	return out, nil
}

// LookPath resolves name against the child PATH rather than the host's.
// Names containing a path separator are made absolute and checked directly.
func (r *Runner) LookPath(name string) (string, error) {
	if name == "" {
		return "", errors.New("executable name is empty")
	}
	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		if err := checkExecutable(abs); err != nil {
			return "", fmt.Errorf("%s: %w", abs, err)
		}
		return abs, nil
	}

	for _, dir := range r.env.Dirs() {
		for _, candidate := range executableCandidates(filepath.Join(dir, name)) {
			if checkExecutable(candidate) == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%q not found in %s: %w", name, strings.Join(r.env.Dirs(), string(os.PathListSeparator)), exec.ErrNotFound)
}
