// Package session implements the Session Launcher (SL, spec.md §4.1):
// it owns one PTY child, keeps a bounded scrollback ring, accepts
// multiple local stream peers over the local session channel (LSC),
// and republishes a registry.Record on a heartbeat tick. Grounded on
// the teacher's terminal.go (startShell, readFromPTY) and server.go
// (per-connection handshake/bridge loop), generalized from "one
// websocket per agent process" to "N local peers per session, each
// speaking newline-delimited JSON".
package session

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"

	"github.com/RJW34/CNM/internal/registry"
	"github.com/RJW34/CNM/internal/wire"
)

// Geometry is the PTY's column/row size.
type Geometry struct {
	Cols int
	Rows int
}

// DefaultGeometry matches spec.md §4.1's default 120x30.
var DefaultGeometry = Geometry{Cols: 120, Rows: 30}

// Launcher owns one PTY child and fans its output out to any number of
// local peers.
type Launcher struct {
	id    string
	cwd   string
	argv  []string

	registryDir string
	log         *logrus.Entry
	geometry    Geometry

	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	peers    map[*peer]struct{}
	ring     *Ring
	started  time.Time
	closed   bool

	heartbeatDone chan struct{}
}

// peer is one attached local subscriber (normally the hub's LSC
// dialer, or a same-host agent's dialer).
type peer struct {
	conn   localConn
	writeMu sync.Mutex
	closed  bool
}

// localConn is the minimal surface a listener accept result needs to
// provide; satisfied by net.Conn on unix and by the named-pipe wrapper
// on windows (see listener_unix.go / listener_windows.go).
type localConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// New constructs a Launcher for id without starting the child process.
func New(id, cwd string, argv []string, registryDir string, log *logrus.Entry) *Launcher {
	return &Launcher{
		id:            id,
		cwd:           cwd,
		argv:          argv,
		registryDir:   registryDir,
		log:           log,
		geometry:      DefaultGeometry,
		peers:         make(map[*peer]struct{}),
		ring:          NewRing(),
		heartbeatDone: make(chan struct{}),
	}
}

// SetGeometry overrides the PTY size Start uses, letting
// cmd/relay-launcher honor config.Config's pty_cols/pty_rows. Must be
// called before Start.
func (l *Launcher) SetGeometry(g Geometry) {
	l.geometry = g
}

// Start spawns the PTY child at the launcher's geometry (DefaultGeometry
// unless overridden via SetGeometry) and begins pumping its output into
// the scrollback ring and any attached peers. Callers must have already
// verified id does not collide with a live local endpoint
// (cmd/relay-launcher calls Listen first and treats its bind failure as
// "already live").
func (l *Launcher) Start() error {
	shell := l.argv
	if len(shell) == 0 {
		sh := os.Getenv("SHELL")
		if sh == "" {
			sh = "/bin/bash"
		}
		shell = []string{sh}
	}

	cmd := exec.Command(shell[0], shell[1:]...)
	cmd.Dir = l.cwd
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setctty: true, Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(l.geometry.Cols),
		Rows: uint16(l.geometry.Rows),
	})
	if err != nil {
		return fmt.Errorf("spawn pty child: %w", err)
	}

	l.mu.Lock()
	l.ptmx = ptmx
	l.cmd = cmd
	l.started = time.Now()
	l.mu.Unlock()

	go l.pumpPTY()
	go l.heartbeatLoop()
	go l.waitChild()

	return nil
}

// pumpPTY reads the child's output, appends it to the ring, and
// forwards a copy to every attached peer as an `output` LSC frame.
func (l *Launcher) pumpPTY() {
	reader := bufio.NewReader(l.ptmx)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			l.ring.Append(chunk)
			l.broadcast(wire.LSCFrame{Type: wire.LSCOutput, Data: chunk})
		}
		if err != nil {
			return
		}
	}
}

func (l *Launcher) waitChild() {
	err := l.cmd.Wait()
	reason := "Process exited (0)"
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			reason = fmt.Sprintf("Process exited (%d)", exitErr.ExitCode())
		} else {
			reason = fmt.Sprintf("Process exited (%v)", err)
		}
	}
	l.shutdown(reason)
}

// shutdown broadcasts status:disconnected, closes every peer, unlinks
// the registry file, and marks the launcher closed. Safe to call
// multiple times (signal handler racing child exit).
func (l *Launcher) shutdown(reason string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	peersCopy := make([]*peer, 0, len(l.peers))
	for p := range l.peers {
		peersCopy = append(peersCopy, p)
	}
	l.mu.Unlock()

	l.broadcast(wire.LSCFrame{Type: wire.LSCStatus, State: wire.StatusDisconnected, Reason: reason})
	for _, p := range peersCopy {
		p.close()
	}
	_ = registry.Remove(l.registryDir, l.id)
	close(l.heartbeatDone)
	if l.log != nil {
		l.log.WithField("session", l.id).Infof("session ended: %s", reason)
	}
}

// Done returns a channel closed once the launcher has fully shut down
// (child exited, peers closed, registry file removed).
func (l *Launcher) Done() <-chan struct{} {
	return l.heartbeatDone
}

// Shutdown is the external entry point used by signal handling
// (SIGINT/SIGTERM): it stops the child process, which in turn drives
// waitChild -> shutdown.
func (l *Launcher) Shutdown() {
	l.mu.Lock()
	cmd := l.cmd
	l.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

func (l *Launcher) broadcast(frame wire.LSCFrame) {
	data, err := encodeFrame(frame)
	if err != nil {
		return
	}

	l.mu.Lock()
	peersCopy := make([]*peer, 0, len(l.peers))
	for p := range l.peers {
		peersCopy = append(peersCopy, p)
	}
	l.mu.Unlock()

	for _, p := range peersCopy {
		if err := p.writeLine(data); err != nil {
			l.removePeer(p)
		}
	}
}

func (l *Launcher) removePeer(p *peer) {
	l.mu.Lock()
	delete(l.peers, p)
	l.mu.Unlock()
	p.close()
}

func (p *peer) writeLine(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return fmt.Errorf("peer closed")
	}
	if _, err := p.conn.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (p *peer) close() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.conn.Close()
}
