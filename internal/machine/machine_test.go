package machine

import (
	"testing"
	"time"

	"github.com/RJW34/CNM/internal/wire"
)

type fakeSocket struct{ closed bool }

func (f *fakeSocket) Close() error { f.closed = true; return nil }

func (f *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func TestNewSeedsLocalMachine(t *testing.T) {
	r := New("myhost")
	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].ID != LocalID || !snap[0].IsLocal {
		t.Fatalf("expected single LOCAL record, got %+v", snap)
	}
	if snap[0].Status != StatusConnected {
		t.Fatalf("expected LOCAL to be connected, got %s", snap[0].Status)
	}
}

func TestRegisterRejectsLocalID(t *testing.T) {
	r := New("myhost")
	_, ok := r.Register(LocalID, "evil", "ws://x", "1.0", nil, &fakeSocket{})
	if ok {
		t.Fatalf("expected registration of reserved LOCAL id to be rejected")
	}
}

func TestRegisterReplacesExistingSocket(t *testing.T) {
	r := New("myhost")
	first := &fakeSocket{}
	r.Register("A", "hostA", "ws://a", "1.0", nil, first)

	second := &fakeSocket{}
	replaced, ok := r.Register("A", "hostA", "ws://a", "1.1", nil, second)
	if !ok {
		t.Fatalf("expected re-registration to succeed")
	}
	if replaced == nil {
		t.Fatalf("expected the prior socket to be returned for forced close")
	}
}

func TestSweepMarksStaleThenRemoves(t *testing.T) {
	r := New("myhost")
	sock := &fakeSocket{}
	r.Register("A", "hostA", "ws://a", "1.0", nil, sock)

	rec := r.machines["A"]
	rec.LastSeen = time.Now().Add(-1 * time.Minute)

	r.Sweep(45*time.Second, time.Hour)
	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected machine still present after staleness flip, got %+v", snap)
	}
	if !sock.closed {
		t.Fatalf("expected stale machine's socket to be closed")
	}

	var found *wire.MachineView
	for i := range snap {
		if snap[i].ID == "A" {
			found = &snap[i]
		}
	}
	if found == nil || found.Status != StatusDisconnected {
		t.Fatalf("expected machine A marked disconnected, got %+v", found)
	}

	rec.disconnectedAt = time.Now().Add(-2 * time.Hour)
	r.Sweep(45*time.Second, time.Hour)
	snap = r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected stale machine removed after removeAfter, got %+v", snap)
	}
}

func TestHeartbeatRevivesConnection(t *testing.T) {
	r := New("myhost")
	r.Register("A", "hostA", "ws://a", "1.0", nil, &fakeSocket{})
	r.machines["A"].Status = StatusDisconnected

	r.Heartbeat("A")
	snap := r.Snapshot()
	for _, m := range snap {
		if m.ID == "A" && m.Status != StatusConnected {
			t.Fatalf("expected heartbeat to revive machine A, got %s", m.Status)
		}
	}
}
