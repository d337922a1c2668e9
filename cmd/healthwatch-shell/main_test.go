package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthwatch/healthwatch-go/pkg/bridge"
	"github.com/healthwatch/healthwatch-go/pkg/connection"
	"github.com/healthwatch/healthwatch-go/pkg/discovery"
	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

type fixedFinder struct {
	svc *discovery.BridgeService
	err error
}

func (f fixedFinder) Find(context.Context, string) (*discovery.BridgeService, error) {
	return f.svc, f.err
}

type setupResult bool

func (r setupResult) SetupObserversAsync(_ context.Context, sink func(bool)) { sink(bool(r)) }

// syncBuffer is a bytes.Buffer safe for the printer and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func newSyncBuffer() *syncBuffer {
	return &syncBuffer{}
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBridge(t *testing.T, result bool) *bridge.Server {
	t.Helper()
	return startBridgeAt(t, "127.0.0.1:0", result)
}

func startBridgeAt(t *testing.T, addr string, result bool) *bridge.Server {
	t.Helper()
	server, err := bridge.NewServer(bridge.ServerConfig{
		Address: addr,
		Channel: bridge.NewObserverChannel(setupResult(result)),
	})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })
	return server
}

func TestParseFlags(t *testing.T) {
	cfg, err := parseFlags([]string{"-addr", "127.0.0.1:7421", "-count", "3"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7421", cfg.Addr)
	assert.Equal(t, 3, cfg.Count)
	assert.Equal(t, bridge.ChannelName, cfg.Channel)
	assert.Equal(t, 30*time.Second, cfg.Timeout)

	_, err = parseFlags([]string{"-count", "-1"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-reconnect", "-max-retries", "-2"})
	assert.Error(t, err)
}

func TestResolveAddress(t *testing.T) {
	ctx := context.Background()

	addr, err := resolveAddress(ctx, Config{Addr: "10.0.0.2:7421"}, nil, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7421", addr)

	svc := &discovery.BridgeService{
		BridgeInfo: discovery.BridgeInfo{Instance: "phone", Port: 7421, Version: "1.3"},
		Host:       "phone.local.",
	}
	addr, err = resolveAddress(ctx, Config{}, fixedFinder{svc: svc}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, svc.Address(), addr)

	svc.Version = "2.0"
	_, err = resolveAddress(ctx, Config{}, fixedFinder{svc: svc}, quietLogger())
	assert.ErrorIs(t, err, ErrIncompatible)

	_, err = resolveAddress(ctx, Config{}, fixedFinder{err: discovery.ErrNotFound}, quietLogger())
	assert.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestRunPrintsEvents(t *testing.T) {
	server := startBridge(t, true)
	out := newSyncBuffer()

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), Config{
			Addr:    server.Addr().String(),
			Channel: bridge.ChannelName,
			Timeout: 5 * time.Second,
			Count:   2,
		}, nil, out, quietLogger())
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "setupHealthKitObservers -> true")
	}, 5*time.Second, 10*time.Millisecond)

	var (
		sent   atomic.Int32
		runErr error
	)
	require.Eventually(t, func() bool {
		n, err := server.Broadcast(&wire.Event{Channel: bridge.ChannelName, Method: bridge.MethodDataUpdated})
		if err == nil {
			sent.Add(int32(n))
		}
		select {
		case runErr = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, runErr)
	assert.Equal(t, 2, strings.Count(out.String(), "healthDataUpdated"))
	assert.GreaterOrEqual(t, sent.Load(), int32(2))
}

func TestRunReportsSetupFailure(t *testing.T) {
	server := startBridge(t, false)
	out := newSyncBuffer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, Config{Addr: server.Addr().String(), Channel: bridge.ChannelName, Timeout: 5 * time.Second},
			nil, out, quietLogger())
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "setupHealthKitObservers -> false")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunUnknownChannel(t *testing.T) {
	server := startBridge(t, true)

	err := run(context.Background(), Config{Addr: server.Addr().String(), Channel: "other/channel", Timeout: 5 * time.Second},
		nil, io.Discard, quietLogger())

	var statusErr *bridge.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, wire.StatusUnknownChannel, statusErr.Status)
}

func TestRunReconnectsAfterBridgeRestart(t *testing.T) {
	server := startBridge(t, true)
	addr := server.Addr().String()
	out := newSyncBuffer()

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), Config{
			Addr:      addr,
			Channel:   bridge.ChannelName,
			Timeout:   5 * time.Second,
			Count:     2,
			Reconnect: true,
		}, nil, out, quietLogger())
	}()

	update := &wire.Event{Channel: bridge.ChannelName, Method: bridge.MethodDataUpdated}
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "setupHealthKitObservers -> true")
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		server.Broadcast(update)
		return strings.Contains(out.String(), "healthDataUpdated #1")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, server.Stop())
	restarted := startBridgeAt(t, addr, true)

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "setupHealthKitObservers -> true") == 2
	}, 10*time.Second, 20*time.Millisecond)

	var runErr error
	require.Eventually(t, func() bool {
		restarted.Broadcast(update)
		select {
		case runErr = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, runErr)
	assert.Contains(t, out.String(), "healthDataUpdated #2")
}

func TestRunReconnectGivesUp(t *testing.T) {
	server := startBridge(t, true)
	addr := server.Addr().String()
	require.NoError(t, server.Stop())

	err := run(context.Background(), Config{
		Addr:       addr,
		Channel:    bridge.ChannelName,
		Timeout:    time.Second,
		Reconnect:  true,
		MaxRetries: 1,
	}, nil, io.Discard, quietLogger())
	assert.ErrorIs(t, err, connection.ErrRetriesExhausted)
}

func TestRunReconnectStopsOnIncompatibleBridge(t *testing.T) {
	svc := &discovery.BridgeService{
		BridgeInfo: discovery.BridgeInfo{Instance: "phone", Port: 7421, Version: "9.0"},
		Host:       "phone.local.",
	}
	err := run(context.Background(), Config{Channel: bridge.ChannelName, Reconnect: true},
		fixedFinder{svc: svc}, io.Discard, quietLogger())
	assert.ErrorIs(t, err, ErrIncompatible)
	assert.True(t, connection.IsPermanent(err))
}
