//go:build !windows

package hub

import "syscall"

// signalTrackedLaunchers sends SIGTERM to every launcher process this
// hub spawned via create_session/start_folder_session, letting each
// one run its own shutdown(reason) sequence (spec.md §4.1).
func (h *Hub) signalTrackedLaunchers() {
	h.mu.Lock()
	pids := make([]int, 0, len(h.trackedPIDs))
	for pid := range h.trackedPIDs {
		pids = append(pids, pid)
	}
	h.mu.Unlock()

	for _, pid := range pids {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
}
