// Package agentpeer implements the Agent role (AG, spec.md §4.4): it
// dials the Hub Server's agent WebSocket, registers this machine,
// refreshes its projects/sessions snapshot on a heartbeat cadence, and
// reconnects with exponential backoff on any disconnect. Grounded on
// the teacher's control_client.go (connectToControlServer,
// nextBackoff), generalized from a single ad-hoc PTY bridge to the
// richer agent:register/agent:projects/agent:sessions/agent:heartbeat
// handshake.
package agentpeer

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/RJW34/CNM/internal/dockerinfo"
	"github.com/RJW34/CNM/internal/fingerprint"
	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/sysinfo"
	"github.com/RJW34/CNM/internal/wire"
)

// minBackoff/maxBackoff match spec.md §4.4's reconnect schedule (start
// at 5s, exponential, capped at 60s) rather than the teacher's 1s/30s
// curve.
const (
	minBackoff        = 5 * time.Second
	maxBackoff        = 60 * time.Second
	heartbeatInterval = 5 * time.Second
)

// Config describes one agent's identity and the hub it reports to.
type Config struct {
	HubURL      string
	MachineID   string
	Hostname    string
	Address     string
	AgentToken  string
	AgentVersion string
	ProjectsDir string
	RegistryDir string

	// ClientListenAddr, if set, starts the P2P client WebSocket listener
	// (spec.md §4.4) so a CR can attach to this machine's sessions
	// without going through the hub. Empty disables it.
	ClientListenAddr string
}

// Agent maintains the long-lived connection to a Hub Server.
type Agent struct {
	cfg Config
	log *logrus.Entry
}

// New constructs an Agent from cfg.
func New(cfg Config, log *logrus.Entry) *Agent {
	return &Agent{cfg: cfg, log: log}
}

// Run dials the hub, registers, and serves the agent connection loop
// until ctx is cancelled, reconnecting with exponential backoff on
// every disconnect (spec.md §4.4 "Reconnect algorithm").
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.ClientListenAddr != "" {
		go func() {
			if err := a.ListenClientWS(ctx); err != nil {
				a.log.WithError(err).Warn("direct client listener stopped")
			}
		}()
	}

	backoff := minBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := a.dial()
		if err != nil {
			a.log.WithError(err).Warn("agent connect failed, retrying")
			backoff = sleepBackoff(ctx, backoff)
			continue
		}

		a.log.Info("connected to hub")
		err = a.serve(ctx, conn)
		_ = conn.Close()
		if err != nil {
			a.log.WithError(err).Info("hub connection closed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		backoff = sleepBackoff(ctx, backoff)
	}
}

func sleepBackoff(ctx context.Context, current time.Duration) time.Duration {
	select {
	case <-ctx.Done():
	case <-time.After(current):
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (a *Agent) dial() (*websocket.Conn, error) {
	wsURL, err := buildAgentURL(a.cfg.HubURL, a.cfg.AgentToken)
	if err != nil {
		return nil, fmt.Errorf("invalid hub url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	fp := fingerprint.Collect()
	hello := wire.AgentEnvelope{
		Type:         wire.AgentRegister,
		MachineID:    a.cfg.MachineID,
		Hostname:     a.cfg.Hostname,
		Address:      a.cfg.Address,
		AgentVersion: a.cfg.AgentVersion,
		Fingerprint: &wire.FingerprintView{
			MachineID:    fp.MachineID,
			MACAddresses: fp.MACAddresses,
			NICs:         fp.NICs,
			Fingerprint:  fp.Fingerprint,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	var ack wire.AgentEnvelope
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read handshake ack: %w", err)
	}
	if ack.Type != wire.HubRegistered || !ack.Success {
		_ = conn.Close()
		return nil, fmt.Errorf("hub rejected registration: %s", ack.Error)
	}
	return conn, nil
}

// serve runs the heartbeat/refresh/read loops for one connection and
// returns once any of them observes a connection error.
func (a *Agent) serve(ctx context.Context, conn *websocket.Conn) error {
	errCh := make(chan error, 3)
	done := make(chan struct{})
	defer close(done)

	go a.heartbeatLoop(conn, done, errCh)
	go a.readLoop(conn, errCh)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *Agent) readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		var env wire.AgentEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			errCh <- err
			return
		}
		// The hub only ever replies with hub:pong on this connection;
		// everything else is push-only from the agent side.
	}
}

func (a *Agent) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(wire.AgentEnvelope{Type: wire.AgentHeartbeat, MachineID: a.cfg.MachineID}); err != nil {
				errCh <- err
				return
			}
			projects := a.localProjects()
			sessions := a.localSessions()
			info := sysinfo.Collect()
			sysView := &wire.SystemInfoView{
				OS: info.OS, Version: info.Version, CPU: info.CPU, Arch: info.Arch,
				Cores: info.Cores, MemoryBytes: info.MemoryBytes,
				DiskTotalBytes: info.DiskTotalBytes, DiskFreeBytes: info.DiskFreeBytes,
			}
			if err := conn.WriteJSON(wire.AgentEnvelope{Type: wire.AgentProjects, MachineID: a.cfg.MachineID, Projects: projects}); err != nil {
				errCh <- err
				return
			}
			if err := conn.WriteJSON(wire.AgentEnvelope{Type: wire.AgentSessions, MachineID: a.cfg.MachineID, Sessions: sessions, SystemInfo: sysView}); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (a *Agent) localSessions() []wire.SessionView {
	records, err := registry.List(a.cfg.RegistryDir, time.Now(), 30*time.Second, true)
	if err != nil {
		return nil
	}
	views := make([]wire.SessionView, 0, len(records))
	for _, r := range records {
		views = append(views, wire.SessionView{
			ID: r.ID, Cwd: r.Cwd, Started: r.Started, LastSeen: r.LastSeen,
			ClientCount: r.ClientCount, Preview: r.Preview, Status: r.Status,
			MachineID: a.cfg.MachineID,
		})
	}
	return views
}

func (a *Agent) localProjects() []wire.ProjectView {
	entries, err := os.ReadDir(a.cfg.ProjectsDir)
	if err != nil {
		return nil
	}
	sessions := a.localSessions()
	byCwd := make(map[string]string, len(sessions))
	for _, s := range sessions {
		byCwd[s.Cwd] = s.ID
	}
	views := make([]wire.ProjectView, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := a.cfg.ProjectsDir + string(os.PathSeparator) + e.Name()
		view := wire.ProjectView{Name: e.Name(), Path: path}
		if sid, ok := byCwd[path]; ok {
			view.HasSession = true
			view.SessionID = sid
		}
		views = append(views, view)
	}
	return views
}

// buildAgentURL normalizes hubURL into a ws(s):// URL targeting the
// hub's agent endpoint, carrying the agent token as a query param the
// same way the teacher's buildControlServerURL does.
func buildAgentURL(hubURL, token string) (string, error) {
	if !strings.Contains(hubURL, "://") {
		hubURL = "ws://" + hubURL
	}
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "http" {
		u.Scheme = "ws"
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/agent"
	}
	q := u.Query()
	if token != "" && q.Get("token") == "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ContainerSnapshot returns the running Docker containers on this
// machine. Nothing in the hub calls it: the hub answers
// list_containers for its own machine only and does not proxy the
// request to agents.
func (a *Agent) ContainerSnapshot(ctx context.Context) ([]wire.ContainerView, error) {
	return dockerinfo.List(ctx)
}
