package transport

import (
	"context"

	"github.com/tempinbox/tempinbox-go/pkg/wire"
)

// Dialer opens socket.io sessions. Implemented by WebSocketDialer.
type Dialer interface {
	// Dial connects to url and completes the namespace handshake. A
	// refused handshake is reported as *ConnectError.
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one open socket.io session. Implemented by WebSocketConn.
type Conn interface {
	// ID returns the connection id used in capture events.
	ID() string

	// Send queues a complete text frame for writing. It does not block.
	Send(data []byte) error

	// Receive blocks until the next socket.io packet arrives. The session
	// ending is reported as *DisconnectError or *ConnectError.
	Receive(ctx context.Context) (*wire.Packet, error)

	// Close closes the session with the given reason.
	Close(reason string) error
}

// Compile-time interface satisfaction checks.
var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*WebSocketConn)(nil)
)
