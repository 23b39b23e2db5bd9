// Package transport implements the Attachment Endpoint: the component
// that owns one bidirectional WebSocket connection end to end —
// handshake, bind, run, and teardown — per the attachment lifecycle.
package transport

import (
	"time"

	"github.com/gorilla/websocket"
)

// Conn abstracts the subset of *websocket.Conn the Attachment Endpoint
// needs, the same way sync/peer.go's Conn interface abstracts a raw
// socket for testability: tests inject a fake, production wires a real
// *websocket.Conn, which satisfies this interface with no wrapper.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)
