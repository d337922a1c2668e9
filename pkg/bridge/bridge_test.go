package bridge

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthwatch/healthwatch-go/pkg/capability"
	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/relay"
	"github.com/healthwatch/healthwatch-go/pkg/service"
	"github.com/healthwatch/healthwatch-go/pkg/transport"
	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

type eventCollector struct {
	mu     sync.Mutex
	events []*wire.Event
}

func (c *eventCollector) handle(ev *wire.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type harness struct {
	sim    *capability.Simulator
	coord  *service.Coordinator
	relay  *relay.Relay
	server *Server
}

func startHarness(t *testing.T, types ...datatype.ID) *harness {
	t.Helper()
	return startHarnessWith(t, ServerConfig{}, types...)
}

// startHarnessWith starts the stack with the server running on
// context.Background(), so only Stop ends it.
func startHarnessWith(t *testing.T, config ServerConfig, types ...datatype.ID) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{sim: capability.NewSimulator()}

	var server *Server
	rel, err := relay.New(relay.Config{
		Sink: relay.FuncSink(func(ctx context.Context, ev relay.Event) error {
			return NewNotifier(server, ChannelName, nil).Notify(ctx, ev)
		}),
	})
	require.NoError(t, err)

	cfg := service.DefaultConfig()
	cfg.Types = types
	coord, err := service.NewCoordinator(h.sim, rel, cfg)
	require.NoError(t, err)

	config.Address = "127.0.0.1:0"
	config.Channel = NewObserverChannel(coord)
	server, err = NewServer(config)
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	rel.Start(ctx)

	t.Cleanup(func() {
		coord.Close()
		rel.Stop()
		server.Stop()
	})

	h.coord, h.relay, h.server = coord, rel, server
	return h
}

func (h *harness) dial(t *testing.T) *Client {
	t.Helper()
	client, err := Dial(context.Background(), h.server.Addr().String(), ClientConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.Eventually(t, func() bool { return h.server.ConnectionCount() > 0 }, time.Second, 5*time.Millisecond)
	return client
}

func TestNewServerRequiresChannel(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestSetupOverBridge(t *testing.T) {
	h := startHarness(t, datatype.HeartRate, datatype.Steps)
	client := h.dial(t)

	ok, err := client.SetupObservers(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, h.sim.TotalEnableCalls())
}

func TestSetupFailureOverBridge(t *testing.T) {
	h := startHarness(t, datatype.HeartRate)
	h.sim.SetAuthorization(false, nil)
	client := h.dial(t)

	ok, err := client.SetupObservers(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownMethodOverBridge(t *testing.T) {
	h := startHarness(t, datatype.HeartRate)
	client := h.dial(t)

	res, err := client.Call(context.Background(), "getSteps", nil)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusNotImplemented, res.Status)
}

func TestUnknownChannelOverBridge(t *testing.T) {
	h := startHarness(t, datatype.HeartRate)
	client, err := Dial(context.Background(), h.server.Addr().String(), ClientConfig{Channel: "com.example/other"})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SetupObservers(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, wire.StatusUnknownChannel, statusErr.Status)
}

func TestUpdatesBecomeEvents(t *testing.T) {
	h := startHarness(t, datatype.HeartRate)
	client := h.dial(t)
	events := &eventCollector{}
	client.OnEvent(events.handle)

	ok, err := client.SetupObservers(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.sim.Fire(context.Background(), datatype.HeartRate))
	}

	require.Eventually(t, func() bool { return events.count() == 5 }, 2*time.Second, 5*time.Millisecond)
	events.mu.Lock()
	defer events.mu.Unlock()
	for _, ev := range events.events {
		assert.Equal(t, ChannelName, ev.Channel)
		assert.Equal(t, MethodDataUpdated, ev.Method)
		assert.Nil(t, ev.Arguments)
	}
}

func TestEventsReachEveryShell(t *testing.T) {
	h := startHarness(t, datatype.Steps)
	a := h.dial(t)
	b, err := Dial(context.Background(), h.server.Addr().String(), ClientConfig{})
	require.NoError(t, err)
	defer b.Close()
	require.Eventually(t, func() bool { return h.server.ConnectionCount() == 2 }, time.Second, 5*time.Millisecond)

	ea, eb := &eventCollector{}, &eventCollector{}
	a.OnEvent(ea.handle)
	b.OnEvent(eb.handle)

	sent, err := h.server.Broadcast(&wire.Event{Channel: ChannelName, Method: MethodDataUpdated})
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Eventually(t, func() bool { return ea.count() == 1 && eb.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotifierWithoutShells(t *testing.T) {
	h := startHarness(t, datatype.Steps)
	n := NewNotifier(h.server, ChannelName, nil)
	assert.NoError(t, n.Notify(context.Background(), relay.Event{Type: datatype.Steps, Seq: 1}))
}

func TestBroadcastAfterStop(t *testing.T) {
	h := startHarness(t, datatype.Steps)
	require.NoError(t, h.server.Stop())

	_, err := h.server.Broadcast(&wire.Event{Method: MethodDataUpdated})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestClientFailsPendingCallsOnDisconnect(t *testing.T) {
	h := startHarness(t, datatype.Steps)
	h.sim.Hold(datatype.Steps)
	defer h.sim.Release(datatype.Steps)
	client := h.dial(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.SetupObservers(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return h.sim.EnableCalls(datatype.Steps) == 1 }, time.Second, 5*time.Millisecond)

	for _, conn := range h.server.transport.Connections() {
		conn.Close()
	}

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed")
	}
	<-client.Done()
}

func TestClientTimeout(t *testing.T) {
	// A bare transport server that never answers.
	srv := transport.NewServer(transport.ServerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	client, err := Dial(context.Background(), srv.Addr().String(), ClientConfig{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SetupObservers(context.Background())
	assert.ErrorIs(t, err, ErrRequestTimeout)
}

func TestMalformedCallRejected(t *testing.T) {
	h := startHarness(t, datatype.Steps)
	conn, err := transport.Dial(context.Background(), h.server.Addr().String(), transport.ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	// Call ID present but method missing.
	data, err := wire.Marshal(&wire.MethodCall{Kind: wire.KindCall, CallID: 9, Channel: ChannelName})
	require.NoError(t, err)
	require.NoError(t, conn.Send(data))

	reply, err := conn.Receive(2 * time.Second)
	require.NoError(t, err)
	res, err := wire.DecodeResult(reply)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), res.CallID)
	assert.Equal(t, wire.StatusInvalidArgument, res.Status)
}

func TestStopWithPendingSetup(t *testing.T) {
	h := startHarness(t, datatype.HeartRate)
	h.sim.Hold(datatype.HeartRate)
	defer h.sim.Release(datatype.HeartRate)
	client := h.dial(t)

	go client.SetupObservers(context.Background())
	require.Eventually(t, func() bool { return h.sim.EnableCalls(datatype.HeartRate) == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- h.server.Stop() }()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an in-flight setup call")
	}
	assert.Equal(t, 0, h.server.ConnectionCount())
}

func TestBroadcastDropsStalledShell(t *testing.T) {
	h := startHarnessWith(t, ServerConfig{WriteTimeout: 100 * time.Millisecond}, datatype.Steps)
	live := h.dial(t)
	events := &eventCollector{}
	live.OnEvent(events.handle)

	// A raw peer that connects and never reads.
	stalled, err := net.Dial("tcp", h.server.Addr().String())
	require.NoError(t, err)
	defer stalled.Close()
	require.Eventually(t, func() bool { return h.server.ConnectionCount() == 2 }, time.Second, 5*time.Millisecond)

	ev := &wire.Event{Channel: ChannelName, Method: MethodDataUpdated, Arguments: bytes.Repeat([]byte("x"), 32*1024)}
	done := make(chan int, 1)
	go func() {
		for i := 0; i < 8192; i++ {
			if _, err := h.server.Broadcast(ev); err != nil {
				done <- i
				return
			}
		}
		done <- -1
	}()

	select {
	case n := <-done:
		require.GreaterOrEqual(t, n, 0, "stalled shell was never dropped")
	case <-time.After(10 * time.Second):
		t.Fatal("Broadcast blocked on a shell that never reads")
	}
	require.Eventually(t, func() bool { return h.server.ConnectionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	before := events.count()
	sent, err := h.server.Broadcast(&wire.Event{Channel: ChannelName, Method: MethodDataUpdated})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Eventually(t, func() bool { return events.count() > before }, 5*time.Second, 5*time.Millisecond)
}
