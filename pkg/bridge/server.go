package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/log"
	"github.com/healthwatch/healthwatch-go/pkg/transport"
	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

// Server errors.
var (
	ErrNoChannel  = errors.New("bridge channel is required")
	ErrNotRunning = errors.New("bridge server not running")
)

// ServerConfig configures a bridge server.
type ServerConfig struct {
	// Address to listen on. Defaults to transport.DefaultAddress.
	Address string

	// MaxMessageSize is the maximum frame size (default: 64KB).
	MaxMessageSize uint32

	// WriteTimeout bounds each frame written to a shell (default: 5s).
	// A shell that stops reading is disconnected once it is exceeded.
	WriteTimeout time.Duration

	// Channel answers method calls. Required.
	Channel *Channel

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// ProtocolLogger receives frame and message traces. Nil disables tracing.
	ProtocolLogger log.Logger
}

// Server serves one Channel to connected shells and broadcasts events.
type Server struct {
	config    ServerConfig
	logger    *slog.Logger
	trace     log.Logger
	transport *transport.Server

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	calls sync.WaitGroup
}

// NewServer creates a bridge server. It does not listen until Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Channel == nil {
		return nil, ErrNoChannel
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		config: config,
		logger: logger,
		trace:  config.ProtocolLogger,
	}
	s.transport = transport.NewServer(transport.ServerConfig{
		Address:        config.Address,
		MaxMessageSize: config.MaxMessageSize,
		WriteTimeout:   config.WriteTimeout,
		Logger:         config.ProtocolLogger,
		OnConnect:      s.handleConnect,
		OnDisconnect:   s.handleDisconnect,
		OnMessage:      s.handleMessage,
		OnError:        s.handleError,
	})
	return s, nil
}

// Start begins accepting shell connections. Method calls are served with a
// context derived from ctx.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	if err := s.transport.Start(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.cancel()
		s.mu.Unlock()
		return err
	}

	s.logger.Info("bridge listening", "address", s.transport.Addr().String(), "channel", s.config.Channel.Name())
	return nil
}

// Stop closes every connection, cancels in-flight calls and waits for them
// to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	err := s.transport.Stop()
	s.calls.Wait()
	return err
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// ConnectionCount returns the number of connected shells.
func (s *Server) ConnectionCount() int {
	return s.transport.ConnectionCount()
}

// Broadcast sends ev to every connected shell and returns how many received
// it. Send failures are joined into the returned error.
func (s *Server) Broadcast(ev *wire.Event) (int, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return 0, ErrNotRunning
	}

	data, err := wire.EncodeEvent(ev)
	if err != nil {
		return 0, err
	}

	var errs []error
	sent := 0
	for _, conn := range s.transport.Connections() {
		if err := conn.Send(data); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", conn.ID(), err))
			continue
		}
		sent++
		s.logMessage(conn.ID(), log.DirectionOut, log.EventMessage(ev))
	}
	return sent, errors.Join(errs...)
}

func (s *Server) handleConnect(conn *transport.ServerConn) {
	s.logger.Info("shell connected", "conn_id", conn.ID(), "remote", conn.RemoteAddr().String())
}

func (s *Server) handleDisconnect(conn *transport.ServerConn) {
	s.logger.Info("shell disconnected", "conn_id", conn.ID())
}

func (s *Server) handleError(conn *transport.ServerConn, err error) {
	connID := ""
	if conn != nil {
		connID = conn.ID()
	}
	s.logger.Warn("bridge transport error", "conn_id", connID, "error", err)
	s.logError(connID, log.LayerTransport, err, "read")
}

// handleMessage runs on the connection's read goroutine. Calls are answered
// on their own goroutine so a pending setup never blocks the read loop.
func (s *Server) handleMessage(conn *transport.ServerConn, data []byte) {
	kind, err := wire.PeekKind(data)
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "conn_id", conn.ID(), "error", err)
		s.logError(conn.ID(), log.LayerWire, err, "peek")
		return
	}
	if kind != wire.KindCall {
		s.logger.Warn("dropping unexpected message", "conn_id", conn.ID(), "kind", kind.String())
		return
	}

	call, err := wire.DecodeCall(data)
	if err != nil {
		s.logError(conn.ID(), log.LayerWire, err, "decode call")
		s.rejectMalformed(conn, data, err)
		return
	}
	s.logMessage(conn.ID(), log.DirectionIn, log.CallMessage(call))

	s.mu.RLock()
	ctx, running := s.ctx, s.running
	s.mu.RUnlock()
	if !running {
		return
	}

	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		start := time.Now()
		res := s.config.Channel.Dispatch(ctx, call)
		s.reply(conn, call.Method, res, time.Since(start))
	}()
}

// rejectMalformed answers INVALID_ARGUMENT when the frame carried a usable
// call ID.
func (s *Server) rejectMalformed(conn *transport.ServerConn, data []byte, cause error) {
	var partial wire.MethodCall
	if err := wire.Unmarshal(data, &partial); err != nil || partial.CallID == 0 {
		return
	}
	res := wire.Failure(&partial, wire.StatusInvalidArgument, "%v", cause)
	s.reply(conn, partial.Method, res, 0)
}

func (s *Server) reply(conn *transport.ServerConn, method string, res *wire.MethodResult, elapsed time.Duration) {
	data, err := wire.EncodeResult(res)
	if err != nil {
		s.logger.Error("failed to encode result", "conn_id", conn.ID(), "call_id", res.CallID, "error", err)
		s.logError(conn.ID(), log.LayerWire, err, "encode result")
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Warn("failed to send result", "conn_id", conn.ID(), "call_id", res.CallID, "error", err)
		return
	}
	s.logger.Debug("answered call", "conn_id", conn.ID(), "method", method, "status", res.Status.String(), "elapsed", elapsed)
	s.logMessage(conn.ID(), log.DirectionOut, log.ResultMessage(method, res, elapsed))
}

func (s *Server) logMessage(connID string, dir log.Direction, msg *log.MessageEvent) {
	if s.trace == nil {
		return
	}
	s.trace.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Channel:      s.config.Channel.Name(),
		Message:      msg,
	})
}

func (s *Server) logError(connID string, layer log.Layer, err error, op string) {
	if s.trace == nil {
		return
	}
	s.trace.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        layer,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}
