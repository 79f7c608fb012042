package hub

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/wire"
)

func (h *Hub) context() context.Context {
	return context.Background()
}

// sessionCwd looks up a live session's working directory from the
// Session Registry, used to bound upload destinations (spec.md §4.3.2
// upload_file).
func (h *Hub) sessionCwd(sessionID string) string {
	rec, ok := registry.Get(h.registryDir, sessionID, time.Now(), 30*time.Second)
	if !ok {
		return ""
	}
	return rec.Cwd
}

// createProjectSession starts (or reuses) a session rooted at
// <projectsDir>/name, creating the directory if it doesn't already
// exist (spec.md §4.3.2 create_session).
func (h *Hub) createProjectSession(name string, skipPermissions bool) (wire.SessionView, bool, error) {
	path := filepath.Join(h.cfg.ProjectsDir, name)
	return h.ensureSessionAt(path, skipPermissions, true)
}

// createFolderSession starts (or reuses) a session in an arbitrary
// sub-folder of projectsDir that isn't tracked as a named project; the
// folder must already exist (spec.md §4.3.2 start_folder_session).
func (h *Hub) createFolderSession(name string, skipPermissions bool) (wire.SessionView, bool, error) {
	path := filepath.Join(h.cfg.ProjectsDir, name)
	return h.ensureSessionAt(path, skipPermissions, false)
}

func (h *Hub) ensureSessionAt(path string, skipPermissions, mkdirIfAbsent bool) (wire.SessionView, bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) && mkdirIfAbsent {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return wire.SessionView{}, false, fmt.Errorf("create project directory: %w", err)
		}
	} else if err != nil || !info.IsDir() {
		return wire.SessionView{}, false, fmt.Errorf("directory does not exist: %s", path)
	}

	for _, s := range h.listLocalSessions() {
		if filepath.Clean(s.Cwd) == filepath.Clean(path) {
			return s, true, nil
		}
	}

	id := uuid.NewString()
	args := []string{"--id", id, "--cwd", path}
	if skipPermissions {
		args = append(args, "--skip-permissions")
	}

	exePath, err := os.Executable()
	if err != nil {
		exePath = "relay-launcher"
	}
	launcherPath := filepath.Join(filepath.Dir(exePath), "relay-launcher")
	if _, err := os.Stat(launcherPath); err != nil {
		launcherPath = "relay-launcher"
	}

	cmd := exec.Command(launcherPath, args...)
	cmd.Dir = path
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return wire.SessionView{}, false, fmt.Errorf("spawn launcher: %w", err)
	}

	h.trackPID(cmd.Process.Pid, id)
	go func() {
		_ = cmd.Wait()
		h.untrackPID(cmd.Process.Pid)
	}()

	return wire.SessionView{ID: id, Cwd: path, Started: time.Now().UnixMilli(), MachineID: machineLocalID}, false, nil
}

func (h *Hub) trackPID(pid int, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trackedPIDs[pid] = sessionID
}

func (h *Hub) untrackPID(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.trackedPIDs, pid)
}
