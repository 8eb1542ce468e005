package channel

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is recorded when a message is sent while the channel
	// is not connected.
	ErrNotConnected = errors.New("channel not connected")

	// ErrHeartbeatTimeout is recorded when the backend stops answering pings.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// Conn is one open duplex connection carrying whole messages
type Conn interface {
	// ReadMessage blocks until the next message arrives or the connection
	// fails.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one message. Calls are serialised by the manager.
	WriteMessage(data []byte) error

	// Close shuts the connection down. It unblocks a pending ReadMessage.
	Close() error
}

// Dialer opens connections to the execution backend
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
