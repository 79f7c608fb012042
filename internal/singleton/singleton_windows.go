//go:build windows

package singleton

import "syscall"

const (
	processQueryLimitedInformation = 0x1000
	stillActive                    = 259
)

// ProcessRunning reports whether pid is a live process, adapted from
// the teacher's lock_windows.go.
func ProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	defer syscall.CloseHandle(handle)

	var code uint32
	if err := syscall.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == stillActive
}
