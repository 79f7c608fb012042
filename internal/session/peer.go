package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"

	"github.com/creack/pty"

	"github.com/RJW34/CNM/internal/wire"
)

const (
	parseBufferCap      = 64 * 1024
	scrollbackMaxLines  = 200
	scrollbackMaxBytes  = 50 * 1024
)

// handlePeer implements Subscribe/Input/Control/Resize/Ping for one
// newly accepted local connection (spec.md §4.1). It sends the initial
// scrollback + status:connected pair, registers the peer for output
// fan-out, then parses newline-delimited JSON frames off conn until it
// errors or closes.
func (l *Launcher) handlePeer(conn localConn) {
	p := &peer{conn: conn}

	l.mu.Lock()
	l.peers[p] = struct{}{}
	l.mu.Unlock()
	defer l.removePeer(p)

	scrollback := l.ring.Scrollback(scrollbackMaxLines, scrollbackMaxBytes)
	if data, err := encodeFrame(wire.LSCFrame{Type: wire.LSCScrollback, Data: scrollback}); err == nil {
		if p.writeLine(data) != nil {
			return
		}
	}
	if data, err := encodeFrame(wire.LSCFrame{Type: wire.LSCStatus, State: wire.StatusConnected}); err == nil {
		if p.writeLine(data) != nil {
			return
		}
	}

	reader := bufio.NewReaderSize(conn, parseBufferCap)
	for {
		line, err := reader.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				// A line over parseBufferCap resets the buffer and logs a
				// warning instead of closing the peer (spec.md §4.1
				// Framing). Drain the rest of the oversized line so the
				// next ReadSlice starts at the following frame.
				if l.log != nil {
					l.log.WithField("session", l.id).Warn("oversized LSC frame, discarding line")
				}
				for {
					_, derr := reader.ReadSlice('\n')
					if !errors.Is(derr, bufio.ErrBufferFull) {
						break
					}
				}
				continue
			}
			return
		}
		trimmed := bytes.TrimRight(line, "\n")
		if len(trimmed) == 0 {
			continue
		}
		var frame wire.LSCFrame
		if err := json.Unmarshal(trimmed, &frame); err != nil {
			// A single malformed line just resets the parse state for
			// the next one; it does not close the peer.
			if l.log != nil {
				l.log.WithField("session", l.id).Warn("malformed LSC frame, dropping line")
			}
			continue
		}
		l.dispatch(p, frame)
	}
}

func (l *Launcher) dispatch(p *peer, frame wire.LSCFrame) {
	switch frame.Type {
	case wire.LSCInput:
		l.writeInput([]byte(frame.Data))
	case wire.LSCControl:
		l.writeControl(frame.Key)
	case wire.LSCResize:
		l.resize(frame.Cols, frame.Rows)
	case wire.LSCPing:
		if data, err := encodeFrame(wire.LSCFrame{Type: wire.LSCPong}); err == nil {
			_ = p.writeLine(data)
		}
	default:
		if l.log != nil {
			l.log.WithField("session", l.id).Warnf("unrecognized LSC frame type %q", frame.Type)
		}
	}
}

func (l *Launcher) writeInput(data []byte) {
	l.mu.Lock()
	ptmx := l.ptmx
	l.mu.Unlock()
	if ptmx == nil {
		return
	}
	_, _ = ptmx.Write(data)
}

// writeControl writes the canonical control byte for key (spec.md §4.1
// Control).
func (l *Launcher) writeControl(key string) {
	var b byte
	switch key {
	case wire.CtrlC:
		b = 0x03
	case wire.CtrlD:
		b = 0x04
	case wire.CtrlEsc:
		b = 0x1b
	default:
		return
	}
	l.writeInput([]byte{b})
}

func (l *Launcher) resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	l.mu.Lock()
	ptmx := l.ptmx
	l.mu.Unlock()
	if ptmx == nil {
		return
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}
