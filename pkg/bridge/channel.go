package bridge

import (
	"context"
	"sync"

	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

// Channel and method names shared with the host shell.
const (
	ChannelName          = "com.example.healthkitIntegrationTesting/background"
	MethodSetupObservers = "setupHealthKitObservers"
	MethodDataUpdated    = "healthDataUpdated"
)

// Handler answers one method call. It must return a non-nil result.
type Handler func(ctx context.Context, call *wire.MethodCall) *wire.MethodResult

// Setupper runs observer setup and reports the aggregate result to sink
// exactly once. *service.Coordinator implements it.
type Setupper interface {
	SetupObserversAsync(ctx context.Context, sink func(bool))
}

// Channel routes method calls to handlers by method name.
type Channel struct {
	name string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewChannel creates a channel with no handlers.
func NewChannel(name string) *Channel {
	return &Channel{
		name:     name,
		handlers: make(map[string]Handler),
	}
}

// NewObserverChannel creates the background channel with the setup method
// bound to s.
func NewObserverChannel(s Setupper) *Channel {
	ch := NewChannel(ChannelName)
	ch.Handle(MethodSetupObservers, SetupHandler(s))
	return ch
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Handle registers h for method, replacing any previous handler.
func (c *Channel) Handle(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Methods returns the number of registered methods.
func (c *Channel) Methods() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

// Dispatch answers call. Calls for another channel get UNKNOWN_CHANNEL and
// unregistered methods get NOT_IMPLEMENTED.
func (c *Channel) Dispatch(ctx context.Context, call *wire.MethodCall) *wire.MethodResult {
	if call.Channel != c.name {
		return wire.Failure(call, wire.StatusUnknownChannel, "unknown channel %q", call.Channel)
	}

	c.mu.RLock()
	h, ok := c.handlers[call.Method]
	c.mu.RUnlock()
	if !ok {
		return wire.Failure(call, wire.StatusNotImplemented, "method %q not implemented", call.Method)
	}

	res := h(ctx, call)
	if res == nil {
		return wire.Failure(call, wire.StatusInternalError, "method %q returned no result", call.Method)
	}
	return res
}

// SetupHandler answers with the aggregate setup result once the sink fires.
// Arguments are ignored.
func SetupHandler(s Setupper) Handler {
	return func(ctx context.Context, call *wire.MethodCall) *wire.MethodResult {
		done := make(chan bool, 1)
		s.SetupObserversAsync(ctx, func(ok bool) { done <- ok })
		return wire.Success(call, <-done)
	}
}
