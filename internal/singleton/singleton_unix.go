//go:build !windows

package singleton

import (
	"errors"
	"syscall"
)

// ProcessRunning reports whether pid is a live process, using the
// signal-0 probe trick (spec.md grounded on the teacher's
// lock_unix.go processRunning).
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
