// Package transport provides the persistent bidirectional connection the
// chat engine runs over.
package transport

import (
	"context"
	"errors"

	"talkx/protocol"
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Transport opens connections to a chat server.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one open connection. Read is called from a single goroutine;
// Write and Close may be called from any goroutine.
type Conn interface {
	// Read blocks until the next well-formed frame arrives. Any error means
	// the connection is gone.
	Read() (protocol.Frame, error)
	// Write queues a frame without waiting for the network.
	Write(frame protocol.Frame) error
	Close() error
}
