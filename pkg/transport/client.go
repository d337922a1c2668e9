package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthwatch/healthwatch-go/pkg/log"
)

// ClientConfig configures the shell side of a connection.
type ClientConfig struct {
	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// ConnectTimeout is the connection timeout (default: 10s).
	ConnectTimeout time.Duration

	// Logger for protocol tracing (optional).
	Logger log.Logger
}

// Dial connects to a bridge server.
func Dial(ctx context.Context, address string, config ClientConfig) (*ClientConn, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	connID := uuid.New().String()
	framer := NewFramerWithMaxSize(conn, config.MaxMessageSize)
	if config.Logger != nil {
		framer.SetLogger(config.Logger, connID)
	}

	return &ClientConn{
		conn:    conn,
		framer:  framer,
		connID:  connID,
		closeCh: make(chan struct{}),
	}, nil
}

// ClientConn is a connection from the shell to the bridge server.
type ClientConn struct {
	conn    net.Conn
	framer  *Framer
	connID  string
	closeCh chan struct{}

	closeOnce sync.Once
	readMu    sync.Mutex
}

// ID returns the local connection identifier used in traces.
func (c *ClientConn) ID() string {
	return c.connID
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one frame to the server.
func (c *ClientConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one frame. A zero timeout waits indefinitely.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return c.framer.ReadFrame()
}

// Close closes the connection. It is safe to call more than once.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
