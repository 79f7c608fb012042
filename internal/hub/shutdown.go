package hub

import (
	"context"
	"time"
)

// shutdownGrace bounds how long Shutdown waits for in-flight HTTP
// requests and tracked launcher children before returning (spec.md
// §4.3.5).
const shutdownGrace = 10 * time.Second

// Shutdown stops accepting new connections, force-closes every agent
// socket, signals every launcher this hub spawned, and returns once
// the HTTP server has drained or shutdownGrace elapses (spec.md
// §4.3.5 "Graceful shutdown").
func (h *Hub) Shutdown() error {
	close(h.stopSweep)
	h.machines.Shutdown()
	h.signalTrackedLaunchers()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if h.server != nil {
		return h.server.Shutdown(ctx)
	}
	return nil
}
