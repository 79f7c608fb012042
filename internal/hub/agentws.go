package hub

import (
	"net/http"

	"github.com/RJW34/CNM/internal/wire"
)

// handleAgentWS accepts one remote agent's long-lived WebSocket
// (spec.md §4.3.4). The agent token (if configured) travels as a query
// param the same way the client bearer token does, since neither side
// of a WebSocket upgrade can rely on a later Authorization header.
func (h *Hub) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	if !h.authenticateAgent(r.URL.Query().Get("token")) {
		// As with the client path, an auth failure must close with 4001
		// rather than a pre-upgrade HTTP status (spec.md §6/§7/§9).
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("agent websocket upgrade failed")
			return
		}
		closeWithCode(conn, 4001, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("agent websocket upgrade failed")
		return
	}

	var hello wire.AgentEnvelope
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != wire.AgentRegister {
		_ = conn.Close()
		return
	}
	if hello.MachineID == "" {
		_ = conn.Close()
		return
	}

	replaced, ok := h.machines.Register(hello.MachineID, hello.Hostname, hello.Address, hello.AgentVersion, hello.Fingerprint, conn)
	if !ok {
		h.log.WithField("machineId", hello.MachineID).Warn("agent attempted to register reserved id")
		_ = conn.Close()
		return
	}
	if replaced != nil {
		closeWithCode(replaced, 4000, "replaced by newer connection")
	}

	_ = conn.WriteJSON(wire.AgentEnvelope{Type: wire.HubRegistered, Success: true})
	h.log.WithField("machineId", hello.MachineID).Info("agent registered")

	for {
		var env wire.AgentEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			h.log.WithField("machineId", hello.MachineID).WithError(err).Info("agent disconnected")
			return
		}
		h.dispatchAgent(hello.MachineID, env, conn)
	}
}

func (h *Hub) dispatchAgent(machineID string, env wire.AgentEnvelope, conn interface{ WriteJSON(v interface{}) error }) {
	switch env.Type {
	case wire.AgentHeartbeat:
		h.machines.Heartbeat(machineID)
		_ = conn.WriteJSON(wire.AgentEnvelope{Type: wire.HubPong})
	case wire.AgentProjects:
		h.machines.UpdateProjects(machineID, env.Projects)
	case wire.AgentSessions:
		h.machines.UpdateSessions(machineID, env.Sessions)
		if env.SystemInfo != nil {
			h.machines.UpdateSystemInfo(machineID, env.SystemInfo)
		}
	default:
		h.log.WithField("type", env.Type).Debug("unrecognized agent frame type")
	}
}
