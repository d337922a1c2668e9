package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
)

// Simulator is an in-process Source with programmable behavior.
// It is used by the bridge daemon when no platform is attached and by tests.
//
// Updates for one type are delivered strictly one at a time: Fire blocks
// until the handler acknowledges. Different types deliver independently.
type Simulator struct {
	mu sync.Mutex

	available bool
	granted   bool
	authErr   error

	enableErrs map[datatype.ID]error
	holds      map[datatype.ID]chan struct{}

	observations map[datatype.ID][]*simObservation
	lanes        map[datatype.ID]*sync.Mutex

	authCalls   int
	enableCalls map[datatype.ID]int
	frequencies map[datatype.ID]Frequency

	logger *slog.Logger
}

// NewSimulator creates a simulator that is available and grants authorization.
func NewSimulator() *Simulator {
	return &Simulator{
		available:    true,
		granted:      true,
		enableErrs:   make(map[datatype.ID]error),
		holds:        make(map[datatype.ID]chan struct{}),
		observations: make(map[datatype.ID][]*simObservation),
		lanes:        make(map[datatype.ID]*sync.Mutex),
		enableCalls:  make(map[datatype.ID]int),
		frequencies:  make(map[datatype.ID]Frequency),
	}
}

// SetLogger sets the logger for debug output.
func (s *Simulator) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetAvailable controls IsAvailable.
func (s *Simulator) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// SetAuthorization sets the outcome of the next authorization requests.
func (s *Simulator) SetAuthorization(granted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
	s.authErr = err
}

// FailEnable makes background delivery enabling fail for t with err.
// Pass a nil error to clear the failure.
func (s *Simulator) FailEnable(t datatype.ID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.enableErrs, t)
		return
	}
	s.enableErrs[t] = err
}

// Hold makes enable calls for t block until Release is called.
func (s *Simulator) Hold(t datatype.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.holds[t]; !held {
		s.holds[t] = make(chan struct{})
	}
}

// Release unblocks pending and future enable calls for t.
func (s *Simulator) Release(t datatype.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, held := s.holds[t]; held {
		close(ch)
		delete(s.holds, t)
	}
}

// IsAvailable implements Source.
func (s *Simulator) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// RequestAuthorization implements Source.
func (s *Simulator) RequestAuthorization(ctx context.Context, types []datatype.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.authCalls++
	granted, err := s.granted, s.authErr
	s.mu.Unlock()

	if err != nil {
		return false, err
	}
	return granted, nil
}

// StartObservation implements Source.
func (s *Simulator) StartObservation(t datatype.ID, handler UpdateHandler) (Observation, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %d", datatype.ErrUnknownType, uint8(t))
	}
	if handler == nil {
		return nil, fmt.Errorf("nil update handler for %s", t)
	}

	obs := &simObservation{sim: s, typ: t, handler: handler}

	s.mu.Lock()
	s.observations[t] = append(s.observations[t], obs)
	if _, ok := s.lanes[t]; !ok {
		s.lanes[t] = &sync.Mutex{}
	}
	s.mu.Unlock()

	return obs, nil
}

// EnableBackgroundDelivery implements Source.
func (s *Simulator) EnableBackgroundDelivery(ctx context.Context, t datatype.ID, freq Frequency) error {
	s.mu.Lock()
	s.enableCalls[t]++
	s.frequencies[t] = freq
	hold := s.holds[t]
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	err := s.enableErrs[t]
	logger := s.logger
	s.mu.Unlock()

	if logger != nil {
		logger.Debug("simulated background delivery", "type", t.String(), "frequency", freq.String(), "error", err)
	}
	return err
}

// Fire delivers one successful update for t to every active observation and
// waits for all of them to acknowledge.
func (s *Simulator) Fire(ctx context.Context, t datatype.ID) error {
	return s.deliver(ctx, t, nil)
}

// FireError delivers one failed update for t.
func (s *Simulator) FireError(ctx context.Context, t datatype.ID, cause error) error {
	return s.deliver(ctx, t, cause)
}

func (s *Simulator) deliver(ctx context.Context, t datatype.ID, cause error) error {
	s.mu.Lock()
	lane := s.lanes[t]
	s.mu.Unlock()
	if lane == nil {
		return fmt.Errorf("%w: %s", ErrNotObserved, t)
	}

	// One in-flight update per type.
	lane.Lock()
	defer lane.Unlock()

	s.mu.Lock()
	targets := make([]*simObservation, 0, len(s.observations[t]))
	for _, obs := range s.observations[t] {
		if !obs.stopped.Load() {
			targets = append(targets, obs)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return fmt.Errorf("%w: %s", ErrNotObserved, t)
	}

	for _, obs := range targets {
		if obs.stopped.Load() {
			continue
		}
		acked := make(chan struct{})
		var once sync.Once
		done := func() { once.Do(func() { close(acked) }) }

		go obs.handler(t, cause, done)

		select {
		case <-acked:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// AuthorizationCalls returns how many authorization requests were made.
func (s *Simulator) AuthorizationCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

// EnableCalls returns how many enable calls were made for t.
func (s *Simulator) EnableCalls(t datatype.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enableCalls[t]
}

// TotalEnableCalls returns the number of enable calls across all types.
func (s *Simulator) TotalEnableCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.enableCalls {
		n += c
	}
	return n
}

// Frequency returns the last frequency requested for t.
func (s *Simulator) Frequency(t datatype.ID) (Frequency, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frequencies[t]
	return f, ok
}

// ActiveObservations returns the number of non-stopped observations of t.
func (s *Simulator) ActiveObservations(t datatype.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, obs := range s.observations[t] {
		if !obs.stopped.Load() {
			n++
		}
	}
	return n
}

// ObservedTypes returns every type with at least one active observation.
func (s *Simulator) ObservedTypes() []datatype.ID {
	var out []datatype.ID
	for _, t := range datatype.All() {
		if s.ActiveObservations(t) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func (s *Simulator) remove(target *simObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.observations[target.typ]
	for i, obs := range list {
		if obs == target {
			s.observations[target.typ] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// simObservation is a watch registered on a Simulator.
type simObservation struct {
	sim     *Simulator
	typ     datatype.ID
	handler UpdateHandler
	stopped atomic.Bool
}

func (o *simObservation) Type() datatype.ID { return o.typ }

func (o *simObservation) Stop() {
	if o.stopped.Swap(true) {
		return
	}
	o.sim.remove(o)
}

var (
	_ Source      = (*Simulator)(nil)
	_ Observation = (*simObservation)(nil)
)
