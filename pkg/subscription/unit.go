package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/capability"
	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/log"
)

// Unit errors.
var (
	// ErrEnable wraps a background delivery failure reported by the source.
	ErrEnable = errors.New("background delivery not enabled")

	// ErrObserve wraps a failure to register the live watch.
	ErrObserve = errors.New("observation not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("unit already started")
)

// State is the setup state of a Unit.
type State uint8

const (
	StatePending State = iota
	StateEnabled
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateEnabled:
		return "ENABLED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Forwarder accepts updates for delivery downstream. Forward must not block
// and returns the sequence number assigned to the update.
type Forwarder interface {
	Forward(t datatype.ID) uint64
}

// UnitConfig configures a Unit.
type UnitConfig struct {
	Type       datatype.ID
	Source     capability.Source
	Frequency  capability.Frequency
	Aggregator *Aggregator
	Forwarder  Forwarder

	// Invocation tags trace events with the coordinator invocation.
	Invocation uint64

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives trace events. Nil disables tracing.
	ProtocolLogger log.Logger

	// OnOutcome is called once with the setup result (nil on success).
	OnOutcome func(t datatype.ID, err error)

	// OnUpdate is called for every delivered update, with the callback error.
	OnUpdate func(t datatype.ID, err error)
}

// Unit sets up and owns the observation of one data type.
type Unit struct {
	cfg    UnitConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	lastErr error
	started bool
	stopped bool
	obs     capability.Observation
	done    chan struct{}
}

// NewUnit creates a pending unit.
func NewUnit(cfg UnitConfig) *Unit {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Unit{
		cfg:    cfg,
		logger: logger.With("type", cfg.Type.String()),
		done:   make(chan struct{}),
	}
}

// Type returns the observed data type.
func (u *Unit) Type() datatype.ID {
	return u.cfg.Type
}

// State returns the current setup state.
func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// LastError returns the setup error of a failed unit.
func (u *Unit) LastError() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// Done is closed once the unit has left Pending and reported its outcome.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Start registers the live watch and begins enabling background delivery.
// It returns once the watch is registered; the enable outcome arrives
// asynchronously. A watch registration failure fails the unit and is also
// returned.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	obs, err := u.cfg.Source.StartObservation(u.cfg.Type, u.handleUpdate)
	if err != nil {
		err = fmt.Errorf("%w for %s: %w", ErrObserve, u.cfg.Type, err)
		u.complete(err)
		return err
	}

	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		obs.Stop()
	} else {
		u.obs = obs
		u.mu.Unlock()
	}

	go func() {
		if err := u.cfg.Source.EnableBackgroundDelivery(ctx, u.cfg.Type, u.cfg.Frequency); err != nil {
			u.complete(fmt.Errorf("%w for %s: %w", ErrEnable, u.cfg.Type, err))
			return
		}
		u.complete(nil)
	}()
	return nil
}

// Stop ends the live watch. Background delivery stays enabled.
func (u *Unit) Stop() {
	u.mu.Lock()
	u.stopped = true
	obs := u.obs
	u.obs = nil
	u.mu.Unlock()

	if obs != nil {
		obs.Stop()
	}
}

func (u *Unit) complete(err error) {
	u.mu.Lock()
	if u.state != StatePending {
		u.mu.Unlock()
		return
	}
	newState := StateEnabled
	if err != nil {
		newState = StateFailed
		u.lastErr = err
	}
	u.state = newState
	u.mu.Unlock()

	if err != nil {
		u.logger.Error("background delivery setup failed", "error", err)
	} else {
		u.logger.Info("background delivery enabled", "frequency", u.cfg.Frequency.String())
	}
	u.traceState(newState, err)

	if u.cfg.OnOutcome != nil {
		u.cfg.OnOutcome(u.cfg.Type, err)
	}
	if u.cfg.Aggregator != nil {
		u.cfg.Aggregator.RecordOutcome(err == nil)
	}
	close(u.done)
}

func (u *Unit) handleUpdate(t datatype.ID, err error, done capability.CompletionFunc) {
	defer done()

	if u.cfg.OnUpdate != nil {
		u.cfg.OnUpdate(t, err)
	}
	if err != nil {
		u.logger.Error("update callback failed", "error", err)
		u.traceUpdate(t, 0, false)
		return
	}

	var seq uint64
	if u.cfg.Forwarder != nil {
		seq = u.cfg.Forwarder.Forward(t)
	}
	u.traceUpdate(t, seq, true)
}

func (u *Unit) traceState(newState State, err error) {
	if u.cfg.ProtocolLogger == nil {
		return
	}
	change := &log.StateChangeEvent{
		Entity:   log.StateEntitySubscription,
		Subject:  u.cfg.Type.String(),
		OldState: StatePending.String(),
		NewState: newState.String(),
	}
	if err != nil {
		change.Reason = err.Error()
	}
	u.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:   time.Now(),
		Layer:       log.LayerService,
		Category:    log.CategoryState,
		Invocation:  u.cfg.Invocation,
		StateChange: change,
	})
}

func (u *Unit) traceUpdate(t datatype.ID, seq uint64, forwarded bool) {
	if u.cfg.ProtocolLogger == nil {
		return
	}
	u.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerService,
		Category:   log.CategoryUpdate,
		Invocation: u.cfg.Invocation,
		Update: &log.UpdateEvent{
			Type:      t.String(),
			Seq:       seq,
			Forwarded: forwarded,
		},
	})
}
