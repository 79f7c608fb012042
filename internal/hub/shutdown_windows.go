//go:build windows

package hub

import "os"

// signalTrackedLaunchers asks each tracked launcher process to exit.
// Windows has no POSIX signal delivery across processes, so this uses
// Process.Kill as the best available approximation (spec.md §4.3.5
// notes launcher shutdown is best-effort on this platform).
func (h *Hub) signalTrackedLaunchers() {
	h.mu.Lock()
	pids := make([]int, 0, len(h.trackedPIDs))
	for pid := range h.trackedPIDs {
		pids = append(pids, pid)
	}
	h.mu.Unlock()

	for _, pid := range pids {
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Kill()
		}
	}
}
