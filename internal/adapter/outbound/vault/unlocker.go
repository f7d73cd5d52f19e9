// Package vault makes host credentials available to the agent executable
// before each invocation.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clibridge/clibridge/internal/domain/invocation"
	"github.com/clibridge/clibridge/internal/port/outbound"
)

// PasswordPlaceholder in an argument is replaced with the vault password.
const PasswordPlaceholder = "{password}"

// DefaultTimeout bounds one unlock attempt.
const DefaultTimeout = 10 * time.Second

// maxStderr bounds the stderr excerpt carried in errors.
const maxStderr = 200

// NoopUnlocker does nothing. It is used when no vault is configured.
type NoopUnlocker struct{}

// Compile-time check that NoopUnlocker implements outbound.Unlocker.
var _ outbound.Unlocker = NoopUnlocker{}

// Unlock always succeeds.
func (NoopUnlocker) Unlock(context.Context) error { return nil }

// CommandUnlocker runs a configured command, for example
// `security unlock-keychain -p {password} login.keychain-db` on macOS.
type CommandUnlocker struct {
	runner      outbound.Runner
	command     string
	args        []string
	passwordEnv string
	timeout     time.Duration
	minInterval time.Duration
	lookupEnv   func(string) (string, bool)
	now         func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	lastSuccess time.Time
}

// Compile-time check that CommandUnlocker implements outbound.Unlocker.
var _ outbound.Unlocker = (*CommandUnlocker)(nil)

// Option configures a CommandUnlocker.
type Option func(*CommandUnlocker)

// WithPasswordEnv names the host variable holding the vault password.
func WithPasswordEnv(name string) Option {
	return func(u *CommandUnlocker) { u.passwordEnv = name }
}

// WithTimeout bounds each unlock attempt.
func WithTimeout(d time.Duration) Option {
	return func(u *CommandUnlocker) { u.timeout = d }
}

// WithMinInterval skips attempts within d of the last success.
func WithMinInterval(d time.Duration) Option {
	return func(u *CommandUnlocker) { u.minInterval = d }
}

// WithLookupEnv replaces os.LookupEnv for reading the password.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(u *CommandUnlocker) { u.lookupEnv = fn }
}

// NewCommandUnlocker creates an unlocker that runs command with args through runner.
func NewCommandUnlocker(runner outbound.Runner, command string, args []string, opts ...Option) *CommandUnlocker {
	u := &CommandUnlocker{
		runner:    runner,
		command:   command,
		args:      append([]string(nil), args...),
		timeout:   DefaultTimeout,
		lookupEnv: os.LookupEnv,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Unlock runs the unlock command. Concurrent callers share one run; a
// caller whose ctx ends stops waiting without aborting the run for the
// others. Errors never include the password or the expanded arguments.
func (u *CommandUnlocker) Unlock(ctx context.Context) error {
	if u.recentlyUnlocked() {
		return nil
	}

	ch := u.group.DoChan("unlock", func() (any, error) {
		if u.recentlyUnlocked() {
			return nil, nil
		}
		// The shared run outlives any single caller.
		runCtx := context.WithoutCancel(ctx)
		if u.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, u.timeout)
			defer cancel()
		}
		return nil, u.run(runCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("vault unlock: %w", ctx.Err())
	}
}

func (u *CommandUnlocker) recentlyUnlocked() bool {
	if u.minInterval <= 0 {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.lastSuccess.IsZero() && u.now().Sub(u.lastSuccess) < u.minInterval
}

func (u *CommandUnlocker) run(ctx context.Context) error {
	args, secret, err := u.expandArgs()
	if err != nil {
		return err
	}

	out, err := u.runner.Run(ctx, outbound.Command{
		Name:    u.command,
		Args:    args,
		Timeout: u.timeout,
	})
	if err != nil {
		return fmt.Errorf("vault unlock: %w", redact(err, secret))
	}
	if out.ExitCode != 0 {
		stderr := invocation.Truncate(strings.TrimSpace(string(out.Stderr)), maxStderr)
		return fmt.Errorf("vault unlock: %s exited with code %d: %s", u.command, out.ExitCode, redactString(stderr, secret))
	}

	u.mu.Lock()
	u.lastSuccess = u.now()
	u.mu.Unlock()
	return nil
}

// expandArgs substitutes the password and returns it for redaction.
func (u *CommandUnlocker) expandArgs() (args []string, secret string, err error) {
	needsPassword := false
	for _, a := range u.args {
		if strings.Contains(a, PasswordPlaceholder) {
			needsPassword = true
			break
		}
	}
	if !needsPassword {
		return u.args, "", nil
	}

	if u.passwordEnv == "" {
		return nil, "", errors.New("vault unlock: arguments reference " + PasswordPlaceholder + " but no password variable is configured")
	}
	password, ok := u.lookupEnv(u.passwordEnv)
	if !ok || password == "" {
		return nil, "", fmt.Errorf("vault unlock: %s is not set", u.passwordEnv)
	}

	args = make([]string, len(u.args))
	for i, a := range u.args {
		args[i] = strings.ReplaceAll(a, PasswordPlaceholder, password)
	}
	return args, password, nil
}

// redact hides the password if it leaked into an error message.
func redact(err error, secret string) error {
	msg := err.Error()
	clean := redactString(msg, secret)
	if clean == msg {
		return err
	}
	return errors.New(clean)
}

func redactString(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}
