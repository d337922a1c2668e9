package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/transport"
	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

// Client errors.
var (
	ErrRequestTimeout  = errors.New("request timed out")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrUnexpectedValue = errors.New("unexpected result value")
)

// StatusError is returned when a call is answered with a non-success status.
type StatusError struct {
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Status, e.Message)
	}
	return e.Status.String()
}

// ClientConfig configures the shell side of the bridge.
type ClientConfig struct {
	// Channel is the channel every call targets. Defaults to ChannelName.
	Channel string

	// Timeout bounds each call (default: 30s).
	Timeout time.Duration

	// Transport configures the underlying connection.
	Transport transport.ClientConfig

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// Client invokes channel methods on a bridge server and receives its events.
type Client struct {
	conn    *transport.ClientConn
	channel string
	timeout time.Duration
	logger  *slog.Logger

	nextCallID atomic.Uint32

	pending   map[uint32]chan *wire.MethodResult
	pendingMu sync.Mutex

	handlerMu    sync.RWMutex
	eventHandler func(*wire.Event)

	closed    atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a bridge server and starts reading replies.
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	if config.Channel == "" {
		config.Channel = ChannelName
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := transport.Dial(ctx, address, config.Transport)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    conn,
		channel: config.Channel,
		timeout: config.Timeout,
		logger:  logger,
		pending: make(map[uint32]chan *wire.MethodResult),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// OnEvent sets the handler for incoming events. It runs on the read goroutine.
func (c *Client) OnEvent(handler func(*wire.Event)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.eventHandler = handler
}

// Done is closed when the connection to the server is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Call invokes method with args and waits for its result.
func (c *Client) Call(ctx context.Context, method string, args any) (*wire.MethodResult, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	call := &wire.MethodCall{
		CallID:    c.nextCallID.Add(1),
		Channel:   c.channel,
		Method:    method,
		Arguments: args,
	}
	data, err := wire.EncodeCall(call)
	if err != nil {
		return nil, err
	}

	resCh := make(chan *wire.MethodResult, 1)
	c.pendingMu.Lock()
	c.pending[call.CallID] = resCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, call.CallID)
		c.pendingMu.Unlock()
	}()

	if err := c.conn.Send(data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-c.done:
		select {
		case res := <-resCh:
			if res != nil {
				return res, nil
			}
		default:
		}
		return nil, ErrClientClosed
	case res, ok := <-resCh:
		if !ok {
			return nil, ErrClientClosed
		}
		return res, nil
	}
}

// SetupObservers invokes setupHealthKitObservers and returns its result.
func (c *Client) SetupObservers(ctx context.Context) (bool, error) {
	res, err := c.Call(ctx, MethodSetupObservers, nil)
	if err != nil {
		return false, err
	}
	if !res.IsSuccess() {
		return false, &StatusError{Status: res.Status, Message: res.Message}
	}
	ok, isBool := res.Bool()
	if !isBool {
		return false, fmt.Errorf("%w: %T", ErrUnexpectedValue, res.Value)
	}
	return ok, nil
}

// Close closes the connection and fails every pending call.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.closed.Store(true)
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		close(c.done)
	}()

	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			if !c.closing.Load() && !errors.Is(err, io.EOF) {
				c.logger.Warn("bridge connection lost", "error", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	kind, err := wire.PeekKind(data)
	if err != nil {
		c.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch kind {
	case wire.KindResult:
		res, err := wire.DecodeResult(data)
		if err != nil {
			c.logger.Warn("dropping malformed result", "error", err)
			return
		}
		if err := c.deliver(res); err != nil {
			c.logger.Debug("result without pending call", "call_id", res.CallID)
		}
	case wire.KindEvent:
		ev, err := wire.DecodeEvent(data)
		if err != nil {
			c.logger.Warn("dropping malformed event", "error", err)
			return
		}
		c.handlerMu.RLock()
		handler := c.eventHandler
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(ev)
		}
	default:
		c.logger.Warn("dropping unexpected message", "kind", kind.String())
	}
}

func (c *Client) deliver(res *wire.MethodResult) error {
	c.pendingMu.Lock()
	ch, ok := c.pending[res.CallID]
	c.pendingMu.Unlock()
	if !ok {
		return ErrUnexpectedReply
	}
	select {
	case ch <- res:
	default:
	}
	return nil
}
