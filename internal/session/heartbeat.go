package session

import (
	"time"

	"github.com/RJW34/CNM/internal/registry"
)

const (
	heartbeatInterval  = 5 * time.Second
	previewMaxLines    = 8
	previewMaxBytes    = 2 * 1024
)

// heartbeatLoop rewrites the registry record at a fixed cadence,
// carrying fresh lastSeen, clientCount, preview and status (spec.md
// §4.1 "Heartbeat tick").
func (l *Launcher) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	l.publish()
	for {
		select {
		case <-ticker.C:
			l.publish()
		case <-l.heartbeatDone:
			return
		}
	}
}

func (l *Launcher) publish() {
	l.mu.Lock()
	clientCount := len(l.peers)
	started := l.started
	pid := 0
	if l.cmd != nil && l.cmd.Process != nil {
		pid = l.cmd.Process.Pid
	}
	l.mu.Unlock()

	rec := registry.Record{
		ID:          l.id,
		Cwd:         l.cwd,
		PID:         pid,
		Pipe:        LocalAddress(l.id),
		Started:     started.UnixMilli(),
		LastSeen:    time.Now().UnixMilli(),
		ClientCount: clientCount,
		Preview:     l.ring.PreviewLines(previewMaxLines, previewMaxBytes),
		Status:      statusFor(clientCount),
	}
	if err := registry.Write(l.registryDir, rec); err != nil && l.log != nil {
		l.log.WithError(err).Warn("failed to write registry record")
	}
}

func statusFor(clientCount int) string {
	switch {
	case clientCount == 0:
		return registry.StatusIdle
	case clientCount == 1:
		return registry.StatusConnected
	default:
		return registry.StatusInteractive
	}
}
