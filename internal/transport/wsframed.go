// Package transport, wsframed variant: §4.4 Variant A, a single
// long-lived bidirectional connection after an HTTP-style upgrade,
// grounded on the reference gateway's internal/ws/handler.go
// (upgrader, ReadMessage loop, mutex-protected outbound writer).
package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSFramed is Transport Variant A: text frames carry JSON control
// messages or plain text, binary frames carry audio.
type WSFramed struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool

	frames chan Frame
}

// Upgrade promotes an HTTP request to a WSFramed connection and starts
// its background read loop.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSFramed, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	t := &WSFramed{conn: conn, frames: make(chan Frame, 32)}
	go t.readLoop()
	return t, nil
}

func (t *WSFramed) readLoop() {
	defer close(t.frames)
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			t.frames <- Frame{Kind: TextFrame, Text: string(data)}
		case websocket.BinaryMessage:
			t.frames <- Frame{Kind: BinaryFrame, Binary: data}
		}
	}
}

// SendText writes a UTF-8 text frame. The write mutex serializes this
// against SendBinary so a control message and an audio packet never
// interleave on the wire (§4.4).
func (t *WSFramed) SendText(s string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// SendBinary writes a binary audio frame.
func (t *WSFramed) SendBinary(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
}

// Receive returns the channel of inbound frames, closed when the
// connection drops.
func (t *WSFramed) Receive() <-chan Frame {
	return t.frames
}

// Close is idempotent, per the IsConnected/close-idempotence guarantee
// both transport variants must provide.
func (t *WSFramed) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// IsConnected reports whether Close has not yet been called.
func (t *WSFramed) IsConnected() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return !t.closed
}

var _ Transport = (*WSFramed)(nil)
