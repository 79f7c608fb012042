package hub

import (
	"os"
	"path/filepath"
	"time"

	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/wire"
)

// listLocalSessions reads the Session Registry and projects it into
// wire.SessionView, computing Status from ClientCount the way the
// browser dashboard expects (spec.md §4.3.2 list_sessions).
func (h *Hub) listLocalSessions() []wire.SessionView {
	records, err := registry.List(h.registryDir, time.Now(), 30*time.Second, true)
	if err != nil {
		return nil
	}
	views := make([]wire.SessionView, 0, len(records))
	for _, r := range records {
		views = append(views, wire.SessionView{
			ID:          r.ID,
			Cwd:         r.Cwd,
			Started:     r.Started,
			LastSeen:    r.LastSeen,
			ClientCount: r.ClientCount,
			Preview:     r.Preview,
			Status:      r.Status,
			MachineID:   machineLocalID,
		})
	}
	return views
}

const machineLocalID = "LOCAL"

// listLocalProjects enumerates cfg.ProjectsDir's immediate
// subdirectories and correlates each against a live session by cwd
// (spec.md §4.3.2 list_projects).
func (h *Hub) listLocalProjects() []wire.ProjectView {
	entries, err := os.ReadDir(h.cfg.ProjectsDir)
	if err != nil {
		return nil
	}
	sessions := h.listLocalSessions()
	byCwd := make(map[string]string, len(sessions))
	for _, s := range sessions {
		byCwd[filepath.Clean(s.Cwd)] = s.ID
	}

	views := make([]wire.ProjectView, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(h.cfg.ProjectsDir, e.Name())
		view := wire.ProjectView{Name: e.Name(), Path: path}
		if sid, ok := byCwd[filepath.Clean(path)]; ok {
			view.HasSession = true
			view.SessionID = sid
		}
		views = append(views, view)
	}
	return views
}

// listLocalFolders enumerates every immediate subdirectory of
// cfg.ProjectsDir, whether or not it has a live session, for the
// "start a session in an arbitrary folder" flow (spec.md §4.3.2
// list_folders).
func (h *Hub) listLocalFolders() []string {
	entries, err := os.ReadDir(h.cfg.ProjectsDir)
	if err != nil {
		return nil
	}
	folders := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}
	return folders
}
