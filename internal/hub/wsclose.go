package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// closeCodeWriter is the minimal surface closeWithCode needs; satisfied
// by *websocket.Conn.
type closeCodeWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// closeWithCode sends a WS close frame carrying code and reason before
// tearing the connection down, used for the two close codes spec.md
// §6/§7/§9 calls out by number: 4001 (auth failure) and 4000 (replaced
// by a newer connection for the same id).
func closeWithCode(conn closeCodeWriter, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	_ = conn.Close()
}
