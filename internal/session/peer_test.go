package session

import (
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/RJW34/CNM/internal/wire"
)

// TestHandlePeerSurvivesOversizedLine covers spec.md §4.1 Framing: a
// line over the parse buffer cap must reset the buffer and log a
// warning, not close the peer. A well-formed ping sent right after the
// oversized line must still get a pong.
func TestHandlePeerSurvivesOversizedLine(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	l := New("oversize-test", "/tmp", nil, t.TempDir(), nil)
	go l.handlePeer(server)

	// Drain the initial scrollback + status:connected pair.
	drainLines(t, client, 2)

	oversized := strings.Repeat("a", parseBufferCap+4096)
	go func() {
		_, _ = client.Write([]byte(oversized + "\n"))
		ping, _ := json.Marshal(wire.LSCFrame{Type: wire.LSCPing})
		_, _ = client.Write(append(ping, '\n'))
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line := readLine(t, client)
	var frame wire.LSCFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		t.Fatalf("unmarshal pong frame: %v", err)
	}
	if frame.Type != wire.LSCPong {
		t.Fatalf("expected pong to survive the oversized line, got %+v", frame)
	}
}

func drainLines(t *testing.T, conn net.Conn, n int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < n; i++ {
		readLine(t, conn)
	}
}

func readLine(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 0, 256)
	one := make([]byte, 1)
	for {
		n, err := conn.Read(one)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if n == 0 {
			continue
		}
		if one[0] == '\n' {
			return buf
		}
		buf = append(buf, one[0])
	}
}
