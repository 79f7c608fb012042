// Package hub implements the Hub Server (HS, spec.md §4.3): the single
// always-on process that terminates client and agent WebSockets,
// multiplexes clients onto session local channels, and keeps the
// Machine Registry current. Grounded on the teacher's agentServer
// (server.go) generalized from "one shell per connection" to
// "many sessions across many machines, fanned out to many clients".
package hub

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/RJW34/CNM/internal/authsvc"
	"github.com/RJW34/CNM/internal/config"
	"github.com/RJW34/CNM/internal/machine"
)

// agentSweepInterval drives machine.Registry.Sweep (spec.md §4.3.4).
const agentSweepInterval = 15 * time.Second

// authSweepInterval drives authsvc.Table.Sweep (spec.md §5).
const authSweepInterval = time.Hour

// agentStaleAfter/agentRemoveAfter are the MR sweep thresholds (spec.md
// §3 "Machine Registry").
const (
	agentStaleAfter  = 45 * time.Second
	agentRemoveAfter = time.Hour
)

// Hub is the long-lived process state for the Hub Server role.
type Hub struct {
	cfg   config.Config
	cfgMu sync.RWMutex
	log   *logrus.Entry

	registryDir string
	machines    *machine.Registry
	auth        *authsvc.Table
	upgrader    websocket.Upgrader

	server *http.Server

	mu             sync.Mutex
	trackedPIDs    map[int]string // pid -> sessionId, for graceful shutdown (spec.md §4.3.5)
	launcherCancel map[string]context.CancelFunc

	stopSweep chan struct{}
}

// New constructs a Hub bound to cfg. registryDir is the Session
// Registry directory this hub reads when answering list_sessions for
// the local machine.
func New(cfg config.Config, registryDir string, log *logrus.Entry) *Hub {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	h := &Hub{
		cfg:         cfg,
		log:         log,
		registryDir: registryDir,
		machines:    machine.New(hostname),
		auth:        authsvc.NewTable(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		trackedPIDs:    make(map[int]string),
		launcherCancel: make(map[string]context.CancelFunc),
		stopSweep:      make(chan struct{}),
	}
	return h
}

// Mux builds the hub's HTTP handler: client/agent WebSocket upgrades,
// static asset serving under cfg.PathPrefix, and the optional webhook
// endpoint (spec.md §4.3.2-§4.3.4).
func (h *Hub) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/client", h.handleClientWS)
	mux.HandleFunc("/ws/agent", h.handleAgentWS)
	mux.HandleFunc("/webhook/github", h.handleWebhook)
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle(h.staticPrefix(), h.staticHandler())
	return mux
}

// Run starts background sweepers and serves HTTP (or HTTPS, if
// cfg.TLSCertPath is set) until ctx is cancelled, then drains
// connections per spec.md §4.3.5.
func (h *Hub) Run(ctx context.Context) error {
	go h.sweepLoop()

	h.server = &http.Server{
		Addr:    addrFor(h.cfg),
		Handler: h.Mux(),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if h.cfg.TLSCertPath != "" && h.cfg.TLSKeyPath != "" {
			err = h.server.ListenAndServeTLS(h.cfg.TLSCertPath, h.cfg.TLSKeyPath)
		} else {
			err = h.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return h.Shutdown()
	case err := <-errCh:
		return err
	}
}

func addrFor(cfg config.Config) string {
	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Port
	if port == 0 {
		port = 8443
	}
	return host + ":" + strconv.Itoa(port)
}

func (h *Hub) sweepLoop() {
	agentTicker := time.NewTicker(agentSweepInterval)
	authTicker := time.NewTicker(authSweepInterval)
	defer agentTicker.Stop()
	defer authTicker.Stop()

	for {
		select {
		case <-h.stopSweep:
			return
		case <-agentTicker.C:
			h.machines.Sweep(agentStaleAfter, agentRemoveAfter)
		case <-authTicker.C:
			h.auth.Sweep()
		}
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Hub) authToken() string {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg.AuthToken
}

func (h *Hub) agentToken() string {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg.AgentToken
}

func (h *Hub) webhookSecret() string {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg.WebhookSecret
}
