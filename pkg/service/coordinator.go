package service

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
	"github.com/healthwatch/healthwatch-go/pkg/subscription"
)

// Coordinator registers observers for a set of data types and reports one
// aggregate setup result per invocation.
type Coordinator struct {
	source    capability.Source
	forwarder subscription.Forwarder
	config    Config
	types     []datatype.ID
	logger    *slog.Logger
	trace     log.Logger
	metrics   *Metrics

	// Lifetime context for enable calls. Cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	inFlight   bool
	closed     bool
	invocation uint64
	units      []*subscription.Unit
	last       *Outcome
}

// NewCoordinator creates an idle coordinator. Unknown types in config are
// rejected with datatype.ErrUnknownType.
func NewCoordinator(source capability.Source, forwarder subscription.Forwarder, config Config) (*Coordinator, error) {
	if source == nil {
		return nil, ErrNoSource
	}
	if forwarder == nil {
		return nil, ErrNoForwarder
	}

	seen := make(map[datatype.ID]bool, len(config.Types))
	types := make([]datatype.ID, 0, len(config.Types))
	for _, t := range config.Types {
		if !t.IsValid() {
			return nil, fmt.Errorf("%w: %d", datatype.ErrUnknownType, uint8(t))
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		source:    source,
		forwarder: forwarder,
		config:    config,
		types:     types,
		logger:    logger,
		trace:     config.ProtocolLogger,
		metrics:   config.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// SetupObservers runs one setup invocation and returns its aggregate result.
// It never returns an error; failures are logged and resolve to false.
func (c *Coordinator) SetupObservers(ctx context.Context) bool {
	ok, _ := c.Setup(ctx)
	return ok
}

// SetupObserversAsync runs SetupObservers on a new goroutine and passes the
// result to sink exactly once.
func (c *Coordinator) SetupObserversAsync(ctx context.Context, sink func(bool)) {
	go func() {
		ok := c.SetupObservers(ctx)
		if sink != nil {
			sink(ok)
		}
	}()
}

// Setup runs one setup invocation and returns the aggregate result together
// with the reason it is false.
//
// ctx bounds authorization and the wait for enable outcomes. Enable calls
// already started continue until they complete or the coordinator is closed.
func (c *Coordinator) Setup(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.reject(ErrClosed)
	}
	if c.inFlight {
		c.mu.Unlock()
		return c.reject(ErrSetupInProgress)
	}
	c.inFlight = true
	c.invocation++
	inv := c.invocation
	previous := c.units
	c.units = nil
	c.mu.Unlock()

	if len(previous) > 0 {
		c.logger.Info("stopping previous observers", "invocation", inv, "count", len(previous))
		for _, u := range previous {
			u.Stop()
		}
	}

	start := time.Now()
	ok, err := c.run(ctx, inv)
	c.resolve(inv, ok, err, time.Since(start))
	return ok, err
}

func (c *Coordinator) run(ctx context.Context, inv uint64) (bool, error) {
	if !c.source.IsAvailable() {
		return false, ErrCapabilityUnavailable
	}

	c.transition(inv, StateAuthorizationPending, "")
	granted, err := c.source.RequestAuthorization(ctx, c.types)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrAuthorization, err)
	}
	if !granted {
		return false, ErrAuthorizationDenied
	}

	if len(c.types) == 0 {
		c.logger.Warn("no data types configured, nothing to observe", "invocation", inv)
		return true, nil
	}

	c.transition(inv, StateFanningOut, "")
	agg := subscription.NewAggregator(len(c.types), nil)
	units := make([]*subscription.Unit, 0, len(c.types))
	for _, t := range c.types {
		units = append(units, subscription.NewUnit(subscription.UnitConfig{
			Type:           t,
			Source:         c.source,
			Frequency:      c.config.Frequency,
			Aggregator:     agg,
			Forwarder:      c.forwarder,
			Invocation:     inv,
			Logger:         c.logger,
			ProtocolLogger: c.trace,
			OnOutcome:      c.metrics.enableResult,
			OnUpdate:       c.metrics.update,
		}))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	c.units = units
	c.mu.Unlock()

	for _, u := range units {
		// A failed watch registration already counts as a failed outcome.
		_ = u.Start(c.ctx)
	}

	c.transition(inv, StateAwaitingCompletion, "")

	var timeout <-chan time.Time
	if c.config.SetupTimeout > 0 {
		timer := time.NewTimer(c.config.SetupTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-agg.Done():
	case <-timeout:
		return false, fmt.Errorf("%w after %s (%d of %d outcomes)",
			ErrSetupTimeout, c.config.SetupTimeout, agg.Recorded(), agg.Expected())
	case <-ctx.Done():
		return false, ctx.Err()
	case <-c.ctx.Done():
		return false, ErrClosed
	}

	if ok, _ := agg.Outcome(); ok {
		return true, nil
	}
	errs := []error{ErrSetupIncomplete}
	for _, u := range units {
		if err := u.LastError(); err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}

func (c *Coordinator) resolve(inv uint64, ok bool, err error, elapsed time.Duration) {
	c.mu.Lock()
	old := c.state
	c.state = StateResolved
	c.inFlight = false
	c.last = &Outcome{Invocation: inv, OK: ok, Err: err, Duration: elapsed}
	c.mu.Unlock()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.traceState(inv, old, StateResolved, reason)

	if ok {
		c.logger.Info("observer setup complete", "invocation", inv, "types", len(c.types), "duration", elapsed)
	} else {
		c.logger.Warn("observer setup failed", "invocation", inv, "error", err, "duration", elapsed)
	}
	c.metrics.setupResolved(ok, err, elapsed)
}

func (c *Coordinator) reject(err error) (bool, error) {
	c.logger.Warn("observer setup rejected", "error", err)
	c.metrics.setupRejected(err)
	return false, err
}

func (c *Coordinator) transition(inv uint64, to State, reason string) {
	c.mu.Lock()
	if c.invocation != inv {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = to
	c.mu.Unlock()

	c.logger.Debug("coordinator state", "invocation", inv, "from", from.String(), "to", to.String())
	c.traceState(inv, from, to, reason)
}

func (c *Coordinator) traceState(inv uint64, from, to State, reason string) {
	if c.trace == nil {
		return
	}
	c.trace.Log(log.Event{
		Timestamp:  time.Now(),
		Layer:      log.LayerService,
		Category:   log.CategoryState,
		Invocation: inv,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityCoordinator,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

// State returns the state of the latest invocation.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Invocation returns the number of invocations started so far.
func (c *Coordinator) Invocation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invocation
}

// Types returns the configured data types, without duplicates.
func (c *Coordinator) Types() []datatype.ID {
	return append([]datatype.ID(nil), c.types...)
}

// Units returns the units of the latest invocation.
func (c *Coordinator) Units() []*subscription.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*subscription.Unit(nil), c.units...)
}

// LastOutcome returns the result of the most recently resolved invocation.
func (c *Coordinator) LastOutcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Outcome{}, false
	}
	return *c.last, true
}

// Close stops every observation owned by the coordinator. Pending enable
// calls are cancelled and later setup requests resolve false.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	units := c.units
	c.units = nil
	c.mu.Unlock()

	c.cancel()
	for _, u := range units {
		u.Stop()
	}
	c.logger.Info("coordinator closed", "stopped", len(units))
	return nil
}
