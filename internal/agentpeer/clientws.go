package agentpeer

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/RJW34/CNM/internal/authsvc"
	"github.com/RJW34/CNM/internal/pathutil"
	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/session"
	"github.com/RJW34/CNM/internal/wire"
)

// clientStaleAfter/p2pClientKeepalive mirror the hub's client-facing
// constants (internal/hub/client.go, internal/hub/launcherspawn.go) —
// a client dialing the agent directly expects the same liveness and
// staleness behavior it would get through the hub.
const (
	clientStaleAfter  = 30 * time.Second
	p2pClientKeepalive = 30 * time.Second
	p2pPipeKeepalive   = 15 * time.Second
	p2pPipeBufferCap   = 1 << 20
	p2pDialTimeout     = 10 * time.Second

	// directMsgRateLimit matches the hub's per-client inbound budget
	// (internal/hub/ratelimit.go, spec.md §8 invariant 6).
	directMsgRateLimit = 10
)

// ListenClientWS is a second listener exposing the same client
// WebSocket protocol as the hub (spec.md §4.4), so a CR can attach
// directly to this machine's sessions without a hub round trip. Only
// the single-machine subset of the hub's protocol applies here —
// list_machines/list_containers and create_session/start_folder_session
// are hub/MR-level concerns with no single-machine meaning, and are
// left to the hub path (DESIGN.md).
func (a *Agent) ListenClientWS(ctx context.Context) error {
	if a.cfg.ClientListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/client", a.handleDirectClientWS)

	srv := &http.Server{Addr: a.cfg.ClientListenAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

var directUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

func (a *Agent) handleDirectClientWS(w http.ResponseWriter, r *http.Request) {
	if a.cfg.AgentToken != "" {
		candidate := r.URL.Query().Get("token")
		if candidate == "" {
			candidate = r.Header.Get("Authorization")
		}
		if !authsvc.CheckToken(candidate, a.cfg.AgentToken) {
			conn, err := directUpgrader.Upgrade(w, r, nil)
			if err != nil {
				a.log.WithError(err).Warn("direct client websocket upgrade failed")
				return
			}
			msg := websocket.FormatCloseMessage(4001, "unauthorized")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
			_ = conn.Close()
			return
		}
	}

	conn, err := directUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithError(err).Warn("direct client websocket upgrade failed")
		return
	}

	dc := &directClient{
		ws:      conn,
		limiter: rate.NewLimiter(rate.Limit(directMsgRateLimit), directMsgRateLimit),
		log:     a.log,
		agent:   a,
		pipes:   make(map[string]*directPipe),
		isAlive: true,
	}
	defer dc.closeAll()
	dc.startKeepalive()

	for {
		var msg wire.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if !dc.limiter.Allow() {
			dc.sendError("", "rate limit exceeded")
			continue
		}
		dc.dispatch(msg)
	}
}

// directClient is one CR's direct P2P attachment to this agent,
// scoped down from the hub's clientConn to a single machine's worth
// of sessions (no Machine Registry, no multi-machine fan-out).
type directClient struct {
	ws      *websocket.Conn
	limiter *rate.Limiter
	log     *logrus.Entry
	agent   *Agent

	writeMu sync.Mutex

	mu              sync.Mutex
	pipes           map[string]*directPipe
	activeSessionID string

	aliveMu        sync.Mutex
	isAlive        bool
	missedPongs    int
	keepaliveTimer *time.Timer
}

func (dc *directClient) send(msg wire.ServerMessage) {
	dc.writeMu.Lock()
	defer dc.writeMu.Unlock()
	_ = dc.ws.WriteJSON(msg)
}

func (dc *directClient) sendError(sessionID, reason string) {
	dc.send(wire.ServerMessage{Type: wire.EvtError, SessionID: sessionID, Error: reason})
}

func (dc *directClient) startKeepalive() {
	dc.aliveMu.Lock()
	defer dc.aliveMu.Unlock()
	dc.keepaliveTimer = time.AfterFunc(p2pClientKeepalive, dc.sendKeepalivePing)
}

func (dc *directClient) sendKeepalivePing() {
	dc.aliveMu.Lock()
	if dc.isAlive {
		dc.missedPongs = 0
	} else {
		dc.missedPongs++
	}
	if dc.missedPongs >= 2 {
		dc.aliveMu.Unlock()
		_ = dc.ws.Close()
		return
	}
	dc.isAlive = false
	dc.keepaliveTimer = time.AfterFunc(p2pClientKeepalive, dc.sendKeepalivePing)
	dc.aliveMu.Unlock()

	dc.send(wire.ServerMessage{Type: wire.ReqPing})
}

func (dc *directClient) markAlive() {
	dc.aliveMu.Lock()
	dc.isAlive = true
	dc.missedPongs = 0
	dc.aliveMu.Unlock()
}

func (dc *directClient) stopKeepalive() {
	dc.aliveMu.Lock()
	defer dc.aliveMu.Unlock()
	if dc.keepaliveTimer != nil {
		dc.keepaliveTimer.Stop()
	}
}

func (dc *directClient) dispatch(msg wire.ClientMessage) {
	switch msg.Type {
	case wire.ReqPing:
		dc.send(wire.ServerMessage{Type: wire.EvtPong})

	case wire.EvtPong:
		dc.markAlive()

	case wire.ReqListProjects:
		dc.send(wire.ServerMessage{Type: wire.EvtProjects, Projects: dc.agent.localProjects()})

	case wire.ReqListSessions:
		dc.send(wire.ServerMessage{Type: wire.EvtSessions, Sessions: dc.agent.localSessions()})

	case wire.ReqListFolders:
		dc.send(wire.ServerMessage{Type: wire.EvtFolders, Folders: dc.agent.localFolders()})

	case wire.ReqConnectSession:
		dc.attach(msg.SessionID)

	case wire.ReqInput:
		dc.forward(wire.LSCFrame{Type: wire.LSCInput, Data: msg.Data})

	case wire.ReqControl:
		dc.forward(wire.LSCFrame{Type: wire.LSCControl, Key: msg.Key})

	case wire.ReqResize:
		dc.forward(wire.LSCFrame{Type: wire.LSCResize, Cols: msg.Cols, Rows: msg.Rows})

	case wire.ReqUploadFile:
		dc.handleUpload(msg)

	default:
		dc.log.WithField("type", msg.Type).Debug("unrecognized direct client frame type")
	}
}

func (dc *directClient) attach(sessionID string) {
	dc.mu.Lock()
	if _, already := dc.pipes[sessionID]; already {
		dc.activeSessionID = sessionID
		dc.mu.Unlock()
		dc.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusConnected})
		return
	}
	dc.mu.Unlock()

	if _, ok := registry.Get(dc.agent.cfg.RegistryDir, sessionID, time.Now(), clientStaleAfter); !ok {
		dc.sendError(sessionID, "session unavailable")
		dc.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusDisconnected, Reason: "Session not found"})
		return
	}

	dp, err := dialDirectPipe(sessionID)
	if err != nil {
		dc.sendError(sessionID, "session unavailable")
		dc.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusDisconnected, Reason: "LSC connect failed"})
		return
	}

	dc.mu.Lock()
	dc.pipes[sessionID] = dp
	dc.activeSessionID = sessionID
	dc.mu.Unlock()

	dp.sendInitialResize(session.DefaultGeometry.Cols, session.DefaultGeometry.Rows)
	dp.startKeepalive()
	go dp.readLoop(dc.send, func(reason string) {
		dc.mu.Lock()
		delete(dc.pipes, sessionID)
		if dc.activeSessionID == sessionID {
			dc.activeSessionID = ""
		}
		dc.mu.Unlock()
		dc.send(wire.ServerMessage{Type: wire.EvtStatus, SessionID: sessionID, State: wire.StatusDisconnected, Reason: reason})
	})
}

func (dc *directClient) forward(frame wire.LSCFrame) {
	dc.mu.Lock()
	dp, ok := dc.pipes[dc.activeSessionID]
	sessionID := dc.activeSessionID
	dc.mu.Unlock()
	if !ok {
		return
	}
	if err := dp.writeFrame(frame); err != nil {
		dc.sendError(sessionID, "session write failed")
	}
}

func (dc *directClient) handleUpload(msg wire.ClientMessage) {
	name, ok := pathutil.SanitizeFilename(msg.Filename)
	if !ok {
		dc.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "invalid filename"})
		return
	}
	if strings.ContainsAny(msg.Filename, `/\`) {
		dc.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Filename: name, Error: "path escape attempt"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.FileData)
	if err != nil {
		dc.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "invalid file data"})
		return
	}
	rec, ok := registry.Get(dc.agent.cfg.RegistryDir, msg.SessionID, time.Now(), clientStaleAfter)
	if !ok {
		dc.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "unknown session"})
		return
	}
	dest, ok := pathutil.ResolveWithinCwd(rec.Cwd, name)
	if !ok {
		dc.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "destination escapes session directory"})
		return
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		dc.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: false, Error: "write failed"})
		return
	}
	dc.send(wire.ServerMessage{Type: wire.EvtUploadResult, SessionID: msg.SessionID, Success: true, Filename: name})
}

func (dc *directClient) closeAll() {
	dc.stopKeepalive()
	dc.mu.Lock()
	pipes := make([]*directPipe, 0, len(dc.pipes))
	for _, dp := range dc.pipes {
		pipes = append(pipes, dp)
	}
	dc.pipes = make(map[string]*directPipe)
	dc.mu.Unlock()
	for _, dp := range pipes {
		dp.close()
	}
}

// directPipe is this agent's side of one CR's direct attachment to a
// session's local channel, adapted from the hub's pipeConn
// (internal/hub/pipeconn.go) to the single-machine P2P path.
type directPipe struct {
	sessionID string
	conn      net.Conn

	mu        sync.Mutex
	keepalive *time.Timer
	closed    bool
}

func dialDirectPipe(sessionID string) (*directPipe, error) {
	addr := session.LocalAddress(sessionID)
	conn, err := net.DialTimeout("unix", addr, p2pDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial LSC for %s: %w", sessionID, err)
	}
	return &directPipe{sessionID: sessionID, conn: conn}, nil
}

func (p *directPipe) startKeepalive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.keepalive = time.AfterFunc(p2pPipeKeepalive, p.sendKeepalive)
}

func (p *directPipe) sendKeepalive() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	data, _ := json.Marshal(wire.LSCFrame{Type: wire.LSCPing})
	_, _ = p.conn.Write(append(data, '\n'))

	p.mu.Lock()
	if !p.closed {
		p.keepalive = time.AfterFunc(p2pPipeKeepalive, p.sendKeepalive)
	}
	p.mu.Unlock()
}

func (p *directPipe) sendInitialResize(cols, rows int) {
	data, _ := json.Marshal(wire.LSCFrame{Type: wire.LSCResize, Cols: cols, Rows: rows})
	_, _ = p.conn.Write(append(data, '\n'))
}

func (p *directPipe) writeFrame(f wire.LSCFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = p.conn.Write(append(data, '\n'))
	return err
}

func (p *directPipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.keepalive != nil {
		p.keepalive.Stop()
	}
	_ = p.conn.Close()
}

func (p *directPipe) readLoop(onFrame func(wire.ServerMessage), onClose func(reason string)) {
	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, p2pPipeBufferCap), p2pPipeBufferCap)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame wire.LSCFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			onFrame(wire.ServerMessage{Type: wire.EvtOutput, SessionID: p.sessionID, Data: string(line)})
			continue
		}
		if frame.Type == wire.LSCPong {
			continue
		}
		msg := wire.ServerMessage{SessionID: p.sessionID}
		switch frame.Type {
		case wire.LSCScrollback:
			msg.Type = wire.EvtScrollback
			msg.Data = frame.Data
		case wire.LSCOutput:
			msg.Type = wire.EvtOutput
			msg.Data = frame.Data
		case wire.LSCStatus:
			msg.Type = wire.EvtStatus
			msg.State = frame.State
			msg.Reason = frame.Reason
		default:
			continue
		}
		onFrame(msg)
	}

	reason := "LSC closed"
	if err := scanner.Err(); err != nil {
		reason = "Buffer overflow"
	}
	p.close()
	onClose(reason)
}

// localFolders enumerates cfg.ProjectsDir's immediate subdirectories
// regardless of whether they're tracked as named projects, mirroring
// the hub's listLocalFolders (internal/hub/projects.go) for the
// direct P2P path's start_folder_session browsing. localProjects
// already exists on Agent for the list_projects case above.
func (a *Agent) localFolders() []string {
	entries, err := os.ReadDir(a.cfg.ProjectsDir)
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
