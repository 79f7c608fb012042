// Package machine implements the Machine Registry (MR, spec.md §4.x,
// §5): an in-memory, single-writer-zone table of the local machine
// plus every connected agent, with heartbeat staleness sweeping. The
// local machine record always exists as LocalID with Status connected;
// no remote registration may claim that id.
package machine

import (
	"sync"
	"time"

	"github.com/RJW34/CNM/internal/wire"
)

// LocalID is the reserved machine id for the hub's own host.
const LocalID = "LOCAL"

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Socket is the minimal surface the registry needs to force-close a
// replaced agent connection with a WS close code (4000, spec.md
// §4.3.4); satisfied by *websocket.Conn.
type Socket interface {
	Close() error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Record is one machine's in-memory state.
type Record struct {
	ID           string
	Hostname     string
	Address      string
	IsLocal      bool
	AgentVersion string
	LastSeen     time.Time
	Status       string
	Projects     []wire.ProjectView
	Sessions     []wire.SessionView
	SystemInfo   *wire.SystemInfoView
	Fingerprint  *wire.FingerprintView

	socket         Socket
	disconnectedAt time.Time
}

// Registry is the process-local MR singleton. Mutated only by
// agent-connection tasks and the sweeper (spec.md §5 "Shared state
// policy"); the hub's client-facing paths read snapshots via Snapshot,
// and their one write is SetLocalSnapshot refreshing the LOCAL record.
type Registry struct {
	mu       sync.Mutex
	machines map[string]*Record
}

// New constructs an MR seeded with the LOCAL machine record.
func New(localHostname string) *Registry {
	r := &Registry{machines: make(map[string]*Record)}
	r.machines[LocalID] = &Record{
		ID:       LocalID,
		Hostname: localHostname,
		IsLocal:  true,
		Status:   StatusConnected,
		LastSeen: time.Now(),
	}
	return r
}

// Register upserts a remote agent's record. If id is LocalID the
// registration is rejected. If an open socket already exists for id,
// it is force-closed before the new one takes over (spec.md §4.3.4).
// fingerprint is the agent's reported hardware identity, stored on the
// Record as-is; records are matched by id only, and the fingerprint is
// not compared against other records.
func (r *Registry) Register(id, hostname, address, agentVersion string, fingerprint *wire.FingerprintView, sock Socket) (replaced Socket, ok bool) {
	if id == LocalID {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, found := r.machines[id]
	if found && existing.socket != nil {
		replaced = existing.socket
	}

	r.machines[id] = &Record{
		ID:           id,
		Hostname:     hostname,
		Address:      address,
		AgentVersion: agentVersion,
		Status:       StatusConnected,
		LastSeen:     time.Now(),
		Fingerprint:  fingerprint,
		socket:       sock,
	}
	return replaced, true
}

// UpdateProjects merges a projects snapshot for id and bumps lastSeen.
func (r *Registry) UpdateProjects(id string, projects []wire.ProjectView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.machines[id]; ok {
		rec.Projects = projects
		rec.LastSeen = time.Now()
	}
}

// UpdateSessions merges a sessions snapshot for id and bumps lastSeen.
func (r *Registry) UpdateSessions(id string, sessions []wire.SessionView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.machines[id]; ok {
		rec.Sessions = sessions
		rec.LastSeen = time.Now()
	}
}

// UpdateSystemInfo attaches a coarse system-info snapshot for id.
func (r *Registry) UpdateSystemInfo(id string, info *wire.SystemInfoView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.machines[id]; ok {
		rec.SystemInfo = info
	}
}

// Heartbeat bumps lastSeen and flips a previously-disconnected machine
// back to connected (a reconnect arriving before the 1h removal).
func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.machines[id]; ok {
		rec.LastSeen = time.Now()
		rec.Status = StatusConnected
	}
}

// SetLocalSnapshot refreshes the LOCAL machine's projects/sessions,
// called at the top of list_machines handling (spec.md §4.3.2).
func (r *Registry) SetLocalSnapshot(projects []wire.ProjectView, sessions []wire.SessionView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.machines[LocalID]; ok {
		rec.Projects = projects
		rec.Sessions = sessions
		rec.LastSeen = time.Now()
	}
}

// Snapshot returns a stable, read-only copy of every machine record
// for serialization into a `machines` wire frame.
func (r *Registry) Snapshot() []wire.MachineView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]wire.MachineView, 0, len(r.machines))
	for _, rec := range r.machines {
		views = append(views, wire.MachineView{
			ID:           rec.ID,
			Hostname:     rec.Hostname,
			Address:      rec.Address,
			IsLocal:      rec.IsLocal,
			AgentVersion: rec.AgentVersion,
			LastSeen:     rec.LastSeen.UnixMilli(),
			Status:       rec.Status,
			Projects:     rec.Projects,
			Sessions:     rec.Sessions,
			SessionCount: len(rec.Sessions),
		})
	}
	return views
}

// Sweep flips machines unseen for staleAfter to disconnected (closing
// their socket), and removes machines disconnected for longer than
// removeAfter. Runs on a 15s timer per spec.md §4.3.4.
func (r *Registry) Sweep(staleAfter, removeAfter time.Duration) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.machines {
		if rec.IsLocal {
			continue
		}
		if rec.Status == StatusConnected && now.Sub(rec.LastSeen) > staleAfter {
			rec.Status = StatusDisconnected
			rec.disconnectedAt = now
			if rec.socket != nil {
				_ = rec.socket.Close()
				rec.socket = nil
			}
		}
		if rec.Status == StatusDisconnected && !rec.disconnectedAt.IsZero() && now.Sub(rec.disconnectedAt) > removeAfter {
			delete(r.machines, id)
		}
	}
}

// Shutdown force-closes every remote agent socket, for hub graceful
// shutdown (spec.md §4.3.5).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.machines {
		if !rec.IsLocal && rec.socket != nil {
			_ = rec.socket.Close()
			rec.socket = nil
		}
	}
}
