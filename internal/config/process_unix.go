//go:build !windows

package config

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isProcessAlive checks whether a process with the given PID exists.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// signal 0 tests for process existence without actually sending a signal;
	// EPERM means it exists but belongs to another user
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
