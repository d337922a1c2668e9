package transport

import (
	"context"
	"net"
	"time"
)

// ServerConnection is the native side of a shell connection.
type ServerConnection interface {
	ID() string
	RemoteAddr() net.Addr
	Send(data []byte) error
	Close() error
}

// ClientConnection is the shell side of a bridge connection.
type ClientConnection interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// TransportServer accepts shell connections.
type TransportServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
}

// FrameReadWriter provides length-prefixed frame I/O.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

var (
	_ ServerConnection = (*ServerConn)(nil)
	_ ClientConnection = (*ClientConn)(nil)
	_ TransportServer  = (*Server)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
)
