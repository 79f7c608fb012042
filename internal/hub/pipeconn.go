package hub

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/RJW34/CNM/internal/session"
	"github.com/RJW34/CNM/internal/wire"
)

const (
	lscDialTimeout     = 10 * time.Second
	lscKeepalive       = 15 * time.Second
	lscBufferCap       = 1 << 20 // 1 MiB
)

// pipeConn is the hub's side of one client's attachment to a session's
// local session channel (spec.md §3 "Client Context", §4.3.3 "Attach
// algorithm").
type pipeConn struct {
	sessionID string
	conn      net.Conn
	connected bool

	mu          sync.Mutex
	keepalive   *time.Timer
	connectTimer *time.Timer
	closed      bool
}

// dialPipe attaches to sessionID's local endpoint with a 10s connect
// timeout (spec.md §4.3.3 step 3).
func dialPipe(sessionID string) (*pipeConn, error) {
	addr := session.LocalAddress(sessionID)
	conn, err := net.DialTimeout("unix", addr, lscDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial LSC for %s: %w", sessionID, err)
	}
	return &pipeConn{sessionID: sessionID, conn: conn, connected: true}, nil
}

// startKeepalive begins sending `ping` LSC frames every 15s (spec.md
// §4.3.3 step 4). A single missed reply does not cancel it — the LSC
// itself may simply be idle (spec.md §5).
func (p *pipeConn) startKeepalive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.keepalive = time.AfterFunc(lscKeepalive, p.sendKeepalive)
}

func (p *pipeConn) sendKeepalive() {
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
		p.keepalive = time.AfterFunc(lscKeepalive, p.sendKeepalive)
	}
	p.mu.Unlock()
}

func (p *pipeConn) sendInitialResize(cols, rows int) {
	data, _ := json.Marshal(wire.LSCFrame{Type: wire.LSCResize, Cols: cols, Rows: rows})
	_, _ = p.conn.Write(append(data, '\n'))
}

// writeFrame forwards a client-issued input/control/resize frame to
// the LSC.
func (p *pipeConn) writeFrame(f wire.LSCFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = p.conn.Write(append(data, '\n'))
	return err
}

func (p *pipeConn) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.keepalive != nil {
		p.keepalive.Stop()
	}
	if p.connectTimer != nil {
		p.connectTimer.Stop()
	}
	_ = p.conn.Close()
}

// readLoop scans newline-delimited JSON frames off the LSC, applying
// the hard 1 MiB accumulation cap (spec.md §4.3.3 step 5, §8 boundary
// test). Non-JSON lines are forwarded verbatim as `output` frames with
// the sessionId stamp. `pong` frames are swallowed. onFrame delivers
// each resulting wire.ServerMessage to the owning client; onClose
// fires exactly once when the loop exits for any reason.
func (p *pipeConn) readLoop(onFrame func(wire.ServerMessage), onClose func(reason string)) {
	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, lscBufferCap), lscBufferCap)

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
