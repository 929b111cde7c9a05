// Package transport provides the bidirectional message channels the
// protocol runs over: a line-framed stdio duplex and an SSE pair made of
// a long-lived subscribe stream and a per-message publish endpoint,
// unified behind the Channel interface.
package transport

import (
	"errors"
)

// Channel is one bidirectional connection to a protocol peer. Frames are
// raw bytes; encoding and decoding belong to pkg/protocol.
//
// Implementations serialize Send internally: concurrent callers never
// interleave frames. Receive returns a channel that yields inbound
// frames for the connection's lifetime and is closed on disconnect;
// a closed receive channel is the terminal event of the connection,
// not an error.
type Channel interface {
	// Send writes one complete frame to the peer.
	Send(data []byte) error

	// Receive returns the inbound frame stream. The same channel is
	// returned on every call.
	Receive() <-chan []byte

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// ErrChannelClosed is returned by Send after the channel has closed.
var ErrChannelClosed = errors.New("transport: channel closed")
