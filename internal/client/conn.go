// Package client implements the Client Runtime (CR, spec.md §4.5) as a
// terminal UI program built on bubbletea, since this module has no
// browser to host the original JS client in. The state machine —
// dashboard / connecting / connected / disconnected, per-session
// scrollback buffers, reconnect backoff — follows spec.md §4.5
// unchanged; only the rendering surface differs (bubbles/lipgloss
// widgets instead of DOM nodes). Grounded on the teacher's
// control_client.go for the dial-handshake-backoff shape, generalized
// to the richer client<->hub protocol in internal/wire.
package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RJW34/CNM/internal/wire"
)

// minBackoff/maxBackoff/backoffFactor match spec.md §4.5.1's reconnect
// schedule for the Client Runtime: 5s -> 60s, 1.5x step.
const (
	minBackoff    = 5 * time.Second
	maxBackoff    = 60 * time.Second
	backoffFactor = 1.5
)

// Conn wraps the client<->hub WebSocket with the same flat-envelope
// protocol the hub's client.go speaks.
type Conn struct {
	ws *websocket.Conn
}

// Dial connects to hubURL's client endpoint, attaching token as a
// query param (spec.md §4.3.1 "Auth model" — bearer token on the
// initial upgrade, since a WebSocket handshake can't carry a later
// Authorization header from a browser or TUI client alike).
func Dial(hubURL, token string) (*Conn, error) {
	wsURL, err := buildClientURL(hubURL, token)
	if err != nil {
		return nil, fmt.Errorf("invalid hub url: %w", err)
	}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Send writes one client request frame.
func (c *Conn) Send(msg wire.ClientMessage) error {
	return c.ws.WriteJSON(msg)
}

// Recv blocks for the next server frame.
func (c *Conn) Recv() (wire.ServerMessage, error) {
	var msg wire.ServerMessage
	err := c.ws.ReadJSON(&msg)
	return msg, err
}

// Close closes the underlying WebSocket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func buildClientURL(hubURL, token string) (string, error) {
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
		u.Path = "/ws/client"
	}
	q := u.Query()
	if token != "" && q.Get("token") == "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NextBackoff grows current by backoffFactor up to maxBackoff, per
// spec.md §4.5.1's 5s->60s, 1.5x reconnect schedule for the CR.
func NextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		current = minBackoff
	}
	next := time.Duration(float64(current) * backoffFactor)
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
