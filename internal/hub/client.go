package hub

import (
	"encoding/base64"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/RJW34/CNM/internal/config"
	"github.com/RJW34/CNM/internal/dockerinfo"
	"github.com/RJW34/CNM/internal/pathutil"
	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/session"
	"github.com/RJW34/CNM/internal/wire"
)

// clientKeepalive is the hub-originated application ping period (spec.md
// §4.3.2 step 2, §5 "WebSocket keepalive: 30s; two missed replies
// terminate").
const clientKeepalive = 30 * time.Second

// clientConn is one browser/CLI client's WebSocket, plus the set of
// session attachments (pipeConns) it currently holds open, and the one
// activeSessionID that input/control/resize frames route to (spec.md
// §3 "Client Context").
type clientConn struct {
	ws      *websocket.Conn
	limiter *rate.Limiter
	log     *logrus.Entry
	hub     *Hub

	writeMu sync.Mutex

	mu              sync.Mutex
	pipes           map[string]*pipeConn // sessionId -> attachment
	activeSessionID string

	aliveMu        sync.Mutex
	isAlive        bool
	missedPongs    int
	keepaliveTimer *time.Timer
}

func (h *Hub) handleClientWS(w http.ResponseWriter, r *http.Request) {
	ok, cookie := h.authenticate(r)
	if !ok {
		// The auth failure itself must be observable as a WS close code
		// (spec.md §6/§7/§9), not a bare pre-upgrade HTTP status, so the
		// upgrade still happens before the connection is torn down.
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("client websocket upgrade failed")
			return
		}
		_ = conn.WriteJSON(wire.ServerMessage{Type: wire.EvtError, Error: "unauthorized"})
		closeWithCode(conn, 4001, "unauthorized")
		return
	}

	var respHeader http.Header
	if cookie != nil {
		respHeader = http.Header{"Set-Cookie": []string{cookie.String()}}
	}
	conn, err := h.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		h.log.WithError(err).Warn("client websocket upgrade failed")
		return
	}

	c := &clientConn{
		ws:      conn,
		limiter: newClientLimiter(),
		log:     h.log,
		hub:     h,
		pipes:   make(map[string]*pipeConn),
		isAlive: true,
	}
	defer c.closeAll()
	c.startKeepalive()

	for {
		var msg wire.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if !allow(c.limiter) {
			c.sendError("", "rate limit exceeded")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *clientConn) send(msg wire.ServerMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteJSON(msg)
}

func (c *clientConn) sendError(sessionID, reason string) {
	c.send(wire.ServerMessage{Type: wire.EvtError, SessionID: sessionID, Error: reason})
}

// startKeepalive schedules the first hub-originated application ping.
func (c *clientConn) startKeepalive() {
	c.aliveMu.Lock()
	defer c.aliveMu.Unlock()
	c.keepaliveTimer = time.AfterFunc(clientKeepalive, c.sendKeepalivePing)
}

// sendKeepalivePing fires every clientKeepalive period. isAlive is
// cleared on every ping send and set again on the client's next pong;
// two consecutive sends that find it still clear mean two missed
// replies, which terminates the connection (spec.md §5).
func (c *clientConn) sendKeepalivePing() {
	c.aliveMu.Lock()
	if c.isAlive {
		c.missedPongs = 0
	} else {
		c.missedPongs++
	}
	if c.missedPongs >= 2 {
		c.aliveMu.Unlock()
		_ = c.ws.Close()
		return
	}
	c.isAlive = false
	c.keepaliveTimer = time.AfterFunc(clientKeepalive, c.sendKeepalivePing)
	c.aliveMu.Unlock()

	c.send(wire.ServerMessage{Type: wire.ReqPing})
}

// markAlive records a client pong, clearing the missed-reply count.
func (c *clientConn) markAlive() {
	c.aliveMu.Lock()
	c.isAlive = true
	c.missedPongs = 0
	c.aliveMu.Unlock()
}

func (c *clientConn) stopKeepalive() {
	c.aliveMu.Lock()
	defer c.aliveMu.Unlock()
	if c.keepaliveTimer != nil {
		c.keepaliveTimer.Stop()
	}
}

// dispatch routes one client frame by Type, mirroring the teacher's
// flat-switch handling rather than a polymorphic handler interface
// (spec.md §9 "Dynamic frame dispatch").
func (c *clientConn) dispatch(msg wire.ClientMessage) {
	switch msg.Type {
	case wire.ReqPing:
		c.send(wire.ServerMessage{Type: wire.EvtPong})

	case wire.EvtPong:
		// Reply to the hub-originated keepalive ping, not a request.
		c.markAlive()

	case wire.ReqListMachines:
		c.hub.machines.SetLocalSnapshot(c.hub.listLocalProjects(), c.hub.listLocalSessions())
		c.send(wire.ServerMessage{Type: wire.EvtMachines, Machines: c.hub.machines.Snapshot()})

	case wire.ReqListProjects:
		c.send(wire.ServerMessage{Type: wire.EvtProjects, Projects: c.hub.listLocalProjects()})

	case wire.ReqListSessions:
		c.send(wire.ServerMessage{Type: wire.EvtSessions, Sessions: c.hub.listLocalSessions()})

	case wire.ReqListFolders:
		c.send(wire.ServerMessage{Type: wire.EvtFolders, Folders: c.hub.listLocalFolders()})

	case wire.ReqListContainers:
		containers, err := dockerinfo.List(c.hub.context())
		if err != nil {
			c.sendError("", "docker unavailable: "+err.Error())
			return
		}
		c.send(wire.ServerMessage{Type: wire.EvtContainers, Containers: containers})

	case wire.ReqConnectSession:
		c.attach(msg.SessionID)

	case wire.ReqInput:
		c.forward(wire.LSCFrame{Type: wire.LSCInput, Data: msg.Data})

	case wire.ReqControl:
		c.forward(wire.LSCFrame{Type: wire.LSCControl, Key: msg.Key})

	case wire.ReqResize:
		c.forward(wire.LSCFrame{Type: wire.LSCResize, Cols: msg.Cols, Rows: msg.Rows})

	case wire.ReqUploadFile:
		c.handleUpload(msg)

	case wire.ReqCreateSession:
		c.handleCreateSession(msg)

	case wire.ReqStartFolderSession:
		c.handleStartFolderSession(msg)

	default:
		c.hub.log.WithField("type", msg.Type).Debug("unrecognized client frame type")
	}
}

// attach dials the session's local channel, wires its output back to
// this client, and sends the replayed scrollback (spec.md §4.3.3
// "Attach algorithm"). It also marks sessionID as this client's
// activeSessionId, the target of subsequent input/control/resize
// frames (spec.md §3 "Client Context", §4.3.2).
func (c *clientConn) attach(sessionID string) {
	c.mu.Lock()
	if _, already := c.pipes[sessionID]; already {
		c.activeSessionID = sessionID
		c.mu.Unlock()
		c.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusConnected})
		return
	}
	c.mu.Unlock()

	if _, ok := registry.Get(c.hub.registryDir, sessionID, time.Now(), config.StaleAfter); !ok {
		c.sendError(sessionID, "session unavailable")
		c.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusDisconnected, Reason: "Session not found"})
		return
	}

	pc, err := dialPipe(sessionID)
	if err != nil {
		c.sendError(sessionID, "session unavailable")
		c.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusDisconnected, Reason: "LSC connect failed"})
		return
	}

	c.mu.Lock()
	c.pipes[sessionID] = pc
	c.activeSessionID = sessionID
	c.mu.Unlock()

	pc.sendInitialResize(session.DefaultGeometry.Cols, session.DefaultGeometry.Rows)
	pc.startKeepalive()
	go pc.readLoop(c.send, func(reason string) {
		c.mu.Lock()
		delete(c.pipes, sessionID)
		if c.activeSessionID == sessionID {
			c.activeSessionID = ""
		}
		c.mu.Unlock()
		c.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusDisconnected, Reason: reason})
	})
}

// forward writes an input/control/resize frame to this client's active
// session's local channel. An unknown or absent active session is
// silently dropped rather than surfaced as an error (spec.md §4.3.2).
func (c *clientConn) forward(frame wire.LSCFrame) {
	c.mu.Lock()
	pc, ok := c.pipes[c.activeSessionID]
	sessionID := c.activeSessionID
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := pc.writeFrame(frame); err != nil {
		c.sendError(sessionID, "session write failed")
	}
}

// handleUpload decodes a base64 payload, sanitizes the destination
// filename, confirms it resolves inside the session's cwd, and enforces
// cfg.MaxUploadBytes before writing (spec.md §4.3.2 upload_file, §8
// "Scenario E").
func (c *clientConn) handleUpload(msg wire.ClientMessage) {
	if !c.hub.cfg.UploadEnabled {
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "uploads disabled"})
		return
	}

	name, ok := pathutil.SanitizeFilename(msg.Filename)
	if !ok {
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "invalid filename"})
		return
	}
	if strings.ContainsAny(msg.Filename, `/\`) {
		// A filename carrying a path separator is a traversal attempt
		// (spec.md §8 Scenario E), not a legitimate name that merely
		// needs sanitizing — reject it outright rather than silently
		// writing under the sanitized name.
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Filename: name, Error: "path escape attempt"})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(msg.FileData)
	if err != nil {
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "invalid file data"})
		return
	}
	if int64(len(raw)) > c.hub.cfg.MaxUploadBytes {
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "file too large"})
		return
	}

	cwd := c.hub.sessionCwd(msg.SessionID)
	if cwd == "" {
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "unknown session"})
		return
	}
	dest, ok := pathutil.ResolveWithinCwd(cwd, name)
	if !ok {
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "destination escapes session directory"})
		return
	}

	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "write failed"})
		return
	}
	c.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: true, Filename: name})
}

func (c *clientConn) handleCreateSession(msg wire.ClientMessage) {
	name, ok := pathutil.SanitizeProjectName(msg.ProjectName)
	if !ok {
		c.send(wire.ServerMessage{Type: wire.EvtCreateSessionResult, Success: false, Error: "invalid project name"})
		return
	}
	view, alreadyRunning, err := c.hub.createProjectSession(name, msg.SkipPerms)
	if err != nil {
		c.send(wire.ServerMessage{Type: wire.EvtCreateSessionResult, Success: false, Error: err.Error()})
		return
	}
	c.send(wire.ServerMessage{Type: wire.EvtCreateSessionResult, Success: true, SessionID: view.ID, AlreadyRunning: alreadyRunning})
}

func (c *clientConn) handleStartFolderSession(msg wire.ClientMessage) {
	name, ok := pathutil.SanitizeFilename(msg.FolderName)
	if !ok {
		c.send(wire.ServerMessage{Type: wire.EvtStartFolderSessionResult, Success: false, Error: "invalid folder name"})
		return
	}
	view, alreadyRunning, err := c.hub.createFolderSession(name, msg.SkipPerms)
	if err != nil {
		c.send(wire.ServerMessage{Type: wire.EvtStartFolderSessionResult, Success: false, Error: err.Error()})
		return
	}
	c.send(wire.ServerMessage{Type: wire.EvtStartFolderSessionResult, Success: true, SessionID: view.ID, AlreadyRunning: alreadyRunning})
}

func (c *clientConn) closeAll() {
	c.stopKeepalive()
	c.mu.Lock()
	pipes := make([]*pipeConn, 0, len(c.pipes))
	for _, pc := range c.pipes {
		pipes = append(pipes, pc)
	}
	c.pipes = make(map[string]*pipeConn)
	c.mu.Unlock()
	for _, pc := range pipes {
		pc.close()
	}
}
