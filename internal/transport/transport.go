// Package transport defines the abstract duplex capability set from
// §4.4 and its two concrete wire variants: a framed duplex channel
// (wsframed.go) and a broker-plus-datagram pair (broker.go).
package transport

import "errors"

// ErrClosed is returned by Send* calls after Close.
var ErrClosed = errors.New("transport: closed")

// Kind discriminates a Frame's payload.
type Kind int

const (
	TextFrame Kind = iota
	BinaryFrame
)

// Frame is one inbound unit: either a UTF-8 text frame (JSON control
// message or plain text) or a binary frame (audio payload).
type Frame struct {
	Kind   Kind
	Text   string
	Binary []byte
}

// Transport is the capability set every wire variant exposes. Outbound
// writes are serialized internally by a per-connection mutex so a
// control message and an audio packet never interleave on the wire
// (§4.4).
type Transport interface {
	SendText(string) error
	SendBinary([]byte) error
	Receive() <-chan Frame
	Close() error
	IsConnected() bool
}
