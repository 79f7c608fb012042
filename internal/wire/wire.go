// Package wire defines the JSON frame shapes exchanged across every
// WebSocket and local-session-channel boundary in the relay: client to
// hub/agent, agent to hub, and session launcher to local peers.
//
// The protocol is a tagged union over a small closed set of Type
// values (spec.md §9 "Dynamic frame dispatch"). Dispatch on Type is
// centralized in the hub, agentpeer and client packages; unrecognized
// types are no-ops on the client side and logged on the server side,
// never routed into a default handler.
package wire

// Client request types (browser/CLI client -> hub or agent).
const (
	ReqPing               = "ping"
	ReqListMachines       = "list_machines"
	ReqListProjects       = "list_projects"
	ReqListSessions       = "list_sessions"
	ReqListFolders        = "list_folders"
	ReqConnectSession     = "connect_session"
	ReqInput              = "input"
	ReqControl            = "control"
	ReqResize             = "resize"
	ReqUploadFile         = "upload_file"
	ReqCreateSession      = "create_session"
	ReqStartFolderSession = "start_folder_session"
	ReqListContainers     = "list_containers"
)

// Server event types (hub/agent -> client).
const (
	EvtPong                    = "pong"
	EvtMachines                = "machines"
	EvtProjects                = "projects"
	EvtSessions                = "sessions"
	EvtFolders                 = "folders"
	EvtOutput                  = "output"
	EvtScrollback               = "scrollback"
	EvtStatus                  = "status"
	EvtUploadResult            = "upload_result"
	EvtCreateSessionResult     = "create_session_result"
	EvtStartFolderSessionResult = "start_folder_session_result"
	EvtError                   = "error"
	EvtContainers              = "containers"
)

// Control keys recognized by ReqControl.
const (
	CtrlC   = "CTRL_C"
	CtrlD   = "CTRL_D"
	CtrlEsc = "ESC"
)

// Session status values carried on EvtStatus.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// ClientMessage is the single flat envelope for every frame a client
// sends to the hub or to an agent's P2P listener. Only the fields
// relevant to Type are populated; the rest are left at zero value,
// mirroring the teacher's ControlMessage/AgentMessage flat-struct
// style rather than a Go type-switch interface.
type ClientMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	Data        string `json:"data,omitempty"`
	Key         string `json:"key,omitempty"`
	Cols        int    `json:"cols,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	Filename    string `json:"filename,omitempty"`
	FileData    string `json:"data_b64,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
	FolderName  string `json:"folderName,omitempty"`
	SkipPerms   bool   `json:"skipPermissions,omitempty"`
}

// ServerMessage is the single flat envelope for every frame the hub or
// an agent sends back to a client.
type ServerMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      string      `json:"data,omitempty"`
	State     string      `json:"state,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Message   string      `json:"message,omitempty"`
	Success   bool        `json:"success,omitempty"`
	Error     string      `json:"error,omitempty"`
	Filename  string      `json:"filename,omitempty"`
	AlreadyRunning bool   `json:"alreadyRunning,omitempty"`
	Sessions  []SessionView `json:"sessions,omitempty"`
	Projects  []ProjectView `json:"projects,omitempty"`
	Folders   []string      `json:"folders,omitempty"`
	Machines  []MachineView `json:"machines,omitempty"`
	Containers []ContainerView `json:"containers,omitempty"`
}

// SessionView is the wire projection of a registry.Record.
type SessionView struct {
	ID          string `json:"id"`
	Cwd         string `json:"cwd"`
	Started     int64  `json:"started"`
	LastSeen    int64  `json:"lastSeen"`
	ClientCount int    `json:"clientCount"`
	Preview     string `json:"preview"`
	Status      string `json:"status"`
	MachineID   string `json:"machineId,omitempty"`
}

// ProjectView describes a directory under the projects root, with or
// without a live session.
type ProjectView struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	HasSession bool  `json:"hasSession"`
	SessionID string `json:"sessionId,omitempty"`
}

// ContainerView mirrors the teacher's DockerContainer, surfaced as an
// additive diagnostic frame (§SPEC_FULL.md "Supplemented features").
type ContainerView struct {
	Name  string   `json:"name"`
	Ports []string `json:"ports"`
}

// MachineView is the wire projection of a machine.Record.
type MachineView struct {
	ID             string        `json:"id"`
	Hostname       string        `json:"hostname"`
	Address        string        `json:"address,omitempty"`
	IsLocal        bool          `json:"isLocal"`
	AgentVersion   string        `json:"agentVersion,omitempty"`
	LastSeen       int64         `json:"lastSeen"`
	Status         string        `json:"status"`
	Projects       []ProjectView `json:"projects,omitempty"`
	Sessions       []SessionView `json:"sessions,omitempty"`
	SessionCount   int           `json:"sessionCount"`
}
