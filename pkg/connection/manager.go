package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Manager errors.
var (
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrManagerRunning   = errors.New("manager already running")
)

// State represents the session state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// SessionFunc runs one session. It calls connected once the link is usable
// and returns when the session ends.
type SessionFunc func(ctx context.Context, connected func()) error

// Config configures a Manager.
type Config struct {
	Backoff BackoffConfig

	// MaxAttempts bounds consecutive reconnect attempts after a failed
	// session. Zero retries forever.
	MaxAttempts int

	// OnStateChange is called on every transition.
	OnStateChange func(from, to State)

	// OnRetry is called before waiting delay for attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Manager runs sessions with automatic reconnection.
type Manager struct {
	cfg     Config
	backoff *Backoff

	mu      sync.Mutex
	state   State
	running bool
}

// NewManager creates a connection manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg,
		backoff: NewBackoff(cfg.Backoff),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnect attempts since the last
// successful connection.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Run calls fn until it returns nil, returns a permanent error, exhausts
// MaxAttempts or ctx ends.
func (m *Manager) Run(ctx context.Context, fn SessionFunc) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.setState(StateClosed)
	}()

	for {
		m.setState(StateConnecting)
		err := fn(ctx, m.connected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			m.setState(StateDisconnected)
			return err
		}
		if m.cfg.MaxAttempts > 0 && m.backoff.Attempts() >= m.cfg.MaxAttempts {
			m.setState(StateDisconnected)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, m.backoff.Attempts(), err)
		}

		m.setState(StateReconnecting)
		delay := m.backoff.Next()
		if m.cfg.OnRetry != nil {
			m.cfg.OnRetry(m.backoff.Attempts(), delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *Manager) connected() {
	m.backoff.Reset()
	m.setState(StateConnected)
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(from, to)
	}
}
