//go:build !windows

package cmd

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// gracefulSignals are the signals that start a graceful shutdown.
func gracefulSignals() []os.Signal {
	return []os.Signal{unix.SIGINT, unix.SIGTERM}
}

// pidAlive reports whether pid names a live process. EPERM means the
// process exists but belongs to another user.
func pidAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// requestStop asks pid to drain and exit.
func requestStop(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

// forceStop kills pid.
func forceStop(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
