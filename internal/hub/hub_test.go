package hub

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RJW34/CNM/internal/config"
	"github.com/RJW34/CNM/internal/logging"
	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/session"
	"github.com/RJW34/CNM/internal/wire"
)

// fakeLSC stands in for a Session Launcher's local channel endpoint:
// it binds the same Unix socket path a real launcher would (spec.md
// §3 "Local Session Channel"), so the hub's dialPipe/readLoop can be
// exercised without starting a real PTY.
func fakeLSC(t *testing.T, sessionID string) net.Listener {
	t.Helper()
	addr := session.LocalAddress(sessionID)
	if err := os.MkdirAll(filepath.Dir(addr), 0o755); err != nil {
		t.Fatalf("fake LSC mkdir failed: %v", err)
	}
	os.Remove(addr)
	ln, err := net.Listen("unix", addr)
	if err != nil {
		t.Fatalf("fake LSC listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func registerSession(t *testing.T, dir, id string) {
	t.Helper()
	if err := registry.Write(dir, registry.Record{
		ID:       id,
		Cwd:      "/tmp",
		Started:  time.Now().UnixMilli(),
		LastSeen: time.Now().UnixMilli(),
		Status:   registry.StatusIdle,
	}); err != nil {
		t.Fatalf("registry.Write failed: %v", err)
	}
}

func dialClient(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testHub(t *testing.T, cfg config.Config) *Hub {
	t.Helper()
	logging.Reset()
	log := logging.NewLogger("hub-test", logging.Options{Level: "error"})
	return New(cfg, t.TempDir(), log)
}

func TestAuthenticateAllowsWhenNoTokenConfigured(t *testing.T) {
	h := testHub(t, config.Defaults())
	req := httptest.NewRequest(http.MethodGet, "/ws/client", nil)
	ok, _ := h.authenticate(req)
	if !ok {
		t.Fatalf("expected authentication to pass when no token is configured")
	}
}

func TestAuthenticateRejectsWrongToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.AuthToken = "right-token"
	h := testHub(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/ws/client?token=wrong-token", nil)
	ok, _ := h.authenticate(req)
	if ok {
		t.Fatalf("expected authentication to fail with the wrong token")
	}
}

func TestAuthenticateAcceptsTokenAndMintsCookie(t *testing.T) {
	cfg := config.Defaults()
	cfg.AuthToken = "right-token"
	h := testHub(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/ws/client?token=right-token", nil)
	ok, cookie := h.authenticate(req)
	if !ok {
		t.Fatalf("expected authentication to pass with the correct token")
	}
	if cookie == nil {
		t.Fatalf("expected a session cookie to be minted")
	}
}

func TestClientWebSocketClosesWithAuthFailureCode(t *testing.T) {
	cfg := config.Defaults()
	cfg.AuthToken = "right-token"
	h := testHub(t, cfg)

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=wrong-token"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != 4001 {
		t.Fatalf("expected close code 4001, got %d", closeErr.Code)
	}
}

func TestClientWebSocketPingPong(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqPing}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wire.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Type != wire.EvtPong {
		t.Fatalf("expected pong, got %q", resp.Type)
	}
}

func TestClientWebSocketListSessionsEmpty(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqListSessions}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wire.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Type != wire.EvtSessions || len(resp.Sessions) != 0 {
		t.Fatalf("expected empty sessions list, got %+v", resp)
	}
}

func TestAgentRegisterRejectsReservedLocalID(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)

	srv := httptest.NewServer(http.HandlerFunc(h.handleAgentWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wire.AgentEnvelope{Type: wire.AgentRegister, MachineID: "LOCAL"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wire.AgentEnvelope
	err = conn.ReadJSON(&env)
	if err == nil {
		t.Fatalf("expected hub to close the connection for a reserved machine id")
	}
}

func TestStaticPrefixDefaultsToRoot(t *testing.T) {
	h := testHub(t, config.Defaults())
	if got := h.staticPrefix(); got != "/" {
		t.Fatalf("expected default prefix /, got %q", got)
	}
}

func TestStaticPrefixNormalizesConfigured(t *testing.T) {
	cfg := config.Defaults()
	cfg.PathPrefix = "CNM"
	h := testHub(t, cfg)
	if got := h.staticPrefix(); got != "/CNM/" {
		t.Fatalf("expected normalized prefix /CNM/, got %q", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	cfg := config.Defaults()
	cfg.WebhookSecret = "s3cr3t"
	h := testHub(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{"ref":"refs/heads/main"}`))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.handleWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAddrForDefaults(t *testing.T) {
	addr := addrFor(config.Config{})
	if addr != "0.0.0.0:8443" {
		t.Fatalf("unexpected default addr: %q", addr)
	}
}

// TestConnectSessionAttachesAndForwardsInput covers spec.md §8 Scenario
// A: connect_session sets the hub's per-client activeSessionId, the
// hub sends the initial resize before any input flows, and a bare
// input frame (no sessionId field) reaches the attached session's
// local channel.
func TestConnectSessionAttachesAndForwardsInput(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)
	registerSession(t, h.registryDir, "proj")
	ln := fakeLSC(t, "proj")

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqConnectSession, SessionID: "proj"}); err != nil {
		t.Fatalf("write connect_session failed: %v", err)
	}

	lscConn, err := ln.Accept()
	if err != nil {
		t.Fatalf("fake LSC accept failed: %v", err)
	}
	defer lscConn.Close()
	lscConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(lscConn)

	if !scanner.Scan() {
		t.Fatalf("expected initial resize frame on LSC: %v", scanner.Err())
	}
	var resize wire.LSCFrame
	if err := json.Unmarshal(scanner.Bytes(), &resize); err != nil {
		t.Fatalf("unmarshal resize frame: %v", err)
	}
	if resize.Type != wire.LSCResize || resize.Cols != session.DefaultGeometry.Cols || resize.Rows != session.DefaultGeometry.Rows {
		t.Fatalf("unexpected initial resize frame: %+v", resize)
	}

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqInput, Data: "x"}); err != nil {
		t.Fatalf("write input failed: %v", err)
	}

	if !scanner.Scan() {
		t.Fatalf("expected forwarded input frame on LSC: %v", scanner.Err())
	}
	var input wire.LSCFrame
	if err := json.Unmarshal(scanner.Bytes(), &input); err != nil {
		t.Fatalf("unmarshal input frame: %v", err)
	}
	if input.Type != wire.LSCInput || input.Data != "x" {
		t.Fatalf("expected forwarded input %q, got %+v", "x", input)
	}
}

// TestConnectSessionDuplicateReturnsSoleStatusConnected covers spec.md
// §8 Scenario B: a connect_session for a session the client is already
// attached to must get a sole status:connected response, with no
// second dial/resize/scrollback.
func TestConnectSessionDuplicateReturnsSoleStatusConnected(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)
	registerSession(t, h.registryDir, "proj")
	ln := fakeLSC(t, "proj")

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqConnectSession, SessionID: "proj"}); err != nil {
		t.Fatalf("write connect_session failed: %v", err)
	}
	lscConn, err := ln.Accept()
	if err != nil {
		t.Fatalf("fake LSC accept failed: %v", err)
	}
	defer lscConn.Close()
	lscConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	scanner := bufio.NewScanner(lscConn)
	if !scanner.Scan() {
		t.Fatalf("expected initial resize frame on first attach: %v", scanner.Err())
	}

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqConnectSession, SessionID: "proj"}); err != nil {
		t.Fatalf("write duplicate connect_session failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wire.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read duplicate-attach response failed: %v", err)
	}
	if resp.Type != wire.EvtStatus || resp.SessionID != "proj" || resp.State != wire.StatusConnected {
		t.Fatalf("expected sole status:connected, got %+v", resp)
	}

	// No second dial: nothing else should arrive on the fake LSC.
	lscConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if scanner.Scan() {
		t.Fatalf("expected no further LSC traffic from a duplicate attach, got %q", scanner.Text())
	}
}

// TestConnectSessionUnknownSessionSendsErrorAndDisconnected covers
// spec.md §7's error table: connect_session for a session missing
// from the registry must surface both an error and status:disconnected
// with reason "Session not found", never a bare close.
func TestConnectSessionUnknownSessionSendsErrorAndDisconnected(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqConnectSession, SessionID: "ghost"}); err != nil {
		t.Fatalf("write connect_session failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var errMsg wire.ServerMessage
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatalf("read error response failed: %v", err)
	}
	if errMsg.Type != wire.EvtError {
		t.Fatalf("expected error frame first, got %+v", errMsg)
	}

	var status wire.ServerMessage
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status response failed: %v", err)
	}
	if status.Type != wire.EvtStatus || status.State != wire.StatusDisconnected || status.Reason != "Session not found" {
		t.Fatalf("expected status:disconnected reason \"Session not found\", got %+v", status)
	}
}

// TestForwardWithNoActiveSessionIsSilentlyDropped covers spec.md
// §4.3.2's "Unknown active session ⇒ silently drop": an input frame
// sent before any connect_session must not produce an error response.
func TestForwardWithNoActiveSessionIsSilentlyDropped(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqInput, Data: "x"}); err != nil {
		t.Fatalf("write input failed: %v", err)
	}
	// Confirm the drop is silent: a subsequent ping still gets a plain
	// pong, not a queued error frame ahead of it.
	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqPing}); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wire.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if resp.Type != wire.EvtPong {
		t.Fatalf("expected pong with no error ahead of it, got %+v", resp)
	}
}

// TestUploadFileRejectsPathEscape covers spec.md §8 Scenario E: a
// filename carrying directory-traversal components must be rejected
// outright, with success:false, rather than silently written under a
// sanitized name.
func TestUploadFileRejectsPathEscape(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)
	registerSession(t, h.registryDir, "proj")

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	payload := base64.StdEncoding.EncodeToString([]byte("abc"))
	if err := conn.WriteJSON(wire.ClientMessage{
		Type:      wire.ReqUploadFile,
		SessionID: "proj",
		Filename:  "../../etc/passwd",
		FileData:  payload,
	}); err != nil {
		t.Fatalf("write upload_file failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wire.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read upload_result failed: %v", err)
	}
	if resp.Type != wire.EvtUploadResult || resp.Success {
		t.Fatalf("expected a failed upload_result, got %+v", resp)
	}
	if resp.Error == "" {
		t.Fatalf("expected a non-empty error message, got %+v", resp)
	}

	entries, err := os.ReadDir("/tmp")
	if err != nil {
		t.Fatalf("read /tmp failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), "passwd") {
			t.Fatalf("upload must not have written outside the session cwd, found %q", e.Name())
		}
	}
}

// TestUploadFileSucceedsForPlainFilename confirms the path-escape
// rejection in TestUploadFileRejectsPathEscape doesn't also block a
// legitimate upload with no directory components.
func TestUploadFileSucceedsForPlainFilename(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)
	cwd := t.TempDir()
	if err := registry.Write(h.registryDir, registry.Record{
		ID:       "proj",
		Cwd:      cwd,
		Started:  time.Now().UnixMilli(),
		LastSeen: time.Now().UnixMilli(),
		Status:   registry.StatusIdle,
	}); err != nil {
		t.Fatalf("registry.Write failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	payload := base64.StdEncoding.EncodeToString([]byte("abc"))
	if err := conn.WriteJSON(wire.ClientMessage{
		Type:      wire.ReqUploadFile,
		SessionID: "proj",
		Filename:  "notes.txt",
		FileData:  payload,
	}); err != nil {
		t.Fatalf("write upload_file failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wire.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read upload_result failed: %v", err)
	}
	if resp.Type != wire.EvtUploadResult || !resp.Success || resp.Filename != "notes.txt" {
		t.Fatalf("expected a successful upload_result for notes.txt, got %+v", resp)
	}
	if data, err := os.ReadFile(filepath.Join(cwd, "notes.txt")); err != nil || string(data) != "abc" {
		t.Fatalf("expected notes.txt written with contents \"abc\", got data=%q err=%v", data, err)
	}
}

// TestCreateSessionIsIdempotent covers spec.md §4.3.2's create_session
// idempotence property: a project directory that already has a
// tracked session must report alreadyRunning:true against the
// existing session rather than spawning a second launcher.
func TestCreateSessionIsIdempotent(t *testing.T) {
	cfg := config.Defaults()
	cfg.ProjectsDir = t.TempDir()
	h := testHub(t, cfg)

	projectPath := filepath.Join(cfg.ProjectsDir, "proj")
	if err := os.MkdirAll(projectPath, 0o755); err != nil {
		t.Fatalf("mkdir project dir failed: %v", err)
	}
	if err := registry.Write(h.registryDir, registry.Record{
		ID:       "existing-session",
		Cwd:      projectPath,
		Started:  time.Now().UnixMilli(),
		LastSeen: time.Now().UnixMilli(),
		Status:   registry.StatusIdle,
	}); err != nil {
		t.Fatalf("registry.Write failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqCreateSession, ProjectName: "proj"}); err != nil {
		t.Fatalf("write create_session failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp wire.ServerMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read create_session_result failed: %v", err)
	}
	if resp.Type != wire.EvtCreateSessionResult || !resp.Success || !resp.AlreadyRunning || resp.SessionID != "existing-session" {
		t.Fatalf("expected alreadyRunning against the existing session, got %+v", resp)
	}
}

// TestRateLimitExceedsAfterTenMessagesPerSecond covers spec.md §8
// Scenario D: a client sustaining more than 10 msg/s over the
// token-bucket budget gets an error for every message past the burst,
// with the connection staying open (spec.md §7).
func TestRateLimitExceedsAfterTenMessagesPerSecond(t *testing.T) {
	cfg := config.Defaults()
	h := testHub(t, cfg)

	srv := httptest.NewServer(http.HandlerFunc(h.handleClientWS))
	defer srv.Close()
	conn := dialClient(t, srv)

	const sent = 12
	for i := 0; i < sent; i++ {
		if err := conn.WriteJSON(wire.ClientMessage{Type: wire.ReqPing}); err != nil {
			t.Fatalf("write ping %d failed: %v", i, err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var succeeded, limited int
	for i := 0; i < sent; i++ {
		var resp wire.ServerMessage
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read response %d failed: %v", i, err)
		}
		switch resp.Type {
		case wire.EvtPong:
			succeeded++
		case wire.EvtError:
			limited++
		default:
			t.Fatalf("unexpected response type %q", resp.Type)
		}
	}
	if succeeded != msgRateLimit {
		t.Fatalf("expected exactly %d messages to succeed within the burst, got %d", msgRateLimit, succeeded)
	}
	if limited != sent-msgRateLimit {
		t.Fatalf("expected %d messages rate-limited, got %d", sent-msgRateLimit, limited)
	}
}
