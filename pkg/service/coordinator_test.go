package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/healthwatch/healthwatch-go/pkg/capability"
	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/log"
	"github.com/healthwatch/healthwatch-go/pkg/relay"
	"github.com/healthwatch/healthwatch-go/pkg/subscription"
)

type recordingForwarder struct {
	mu    sync.Mutex
	types []datatype.ID
}

func (r *recordingForwarder) Forward(t datatype.ID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, t)
	return uint64(len(r.types))
}

func (r *recordingForwarder) forwarded() []datatype.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]datatype.ID(nil), r.types...)
}

type stubSource struct {
	mock.Mock
}

func (s *stubSource) IsAvailable() bool { return s.Called().Bool(0) }

func (s *stubSource) RequestAuthorization(ctx context.Context, types []datatype.ID) (bool, error) {
	args := s.Called(ctx, types)
	return args.Bool(0), args.Error(1)
}

func (s *stubSource) StartObservation(t datatype.ID, h capability.UpdateHandler) (capability.Observation, error) {
	args := s.Called(t, h)
	obs, _ := args.Get(0).(capability.Observation)
	return obs, args.Error(1)
}

func (s *stubSource) EnableBackgroundDelivery(ctx context.Context, t datatype.ID, f capability.Frequency) error {
	return s.Called(ctx, t, f).Error(0)
}

type traceRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *traceRecorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *traceRecorder) coordinatorStates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.StateChange != nil && e.StateChange.Entity == log.StateEntityCoordinator {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

func newCoordinator(t *testing.T, src capability.Source, types ...datatype.ID) (*Coordinator, *recordingForwarder) {
	t.Helper()
	fwd := &recordingForwarder{}
	cfg := DefaultConfig()
	cfg.Types = types
	c, err := NewCoordinator(src, fwd, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, fwd
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSetupAllSucceed(t *testing.T) {
	sim := capability.NewSimulator()
	c, _ := newCoordinator(t, sim, datatype.All()...)

	ok, err := c.Setup(withTimeout(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateResolved, c.State())

	assert.Equal(t, 1, sim.AuthorizationCalls())
	assert.Equal(t, 10, sim.TotalEnableCalls())
	for _, u := range c.Units() {
		assert.Equal(t, subscription.StateEnabled, u.State(), u.Type().String())
		freq, _ := sim.Frequency(u.Type())
		assert.Equal(t, capability.FrequencyImmediate, freq)
	}
}

func TestSetupOneFailureResolvesFalse(t *testing.T) {
	sim := capability.NewSimulator()
	sim.FailEnable(datatype.BloodGlucose, errors.New("permission revoked"))
	c, _ := newCoordinator(t, sim, datatype.HeartRate, datatype.Steps, datatype.BloodGlucose)

	ok, err := c.Setup(withTimeout(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSetupIncomplete)
	assert.ErrorIs(t, err, subscription.ErrEnable)
	assert.Contains(t, err.Error(), "permission revoked")

	assert.Equal(t, 3, sim.TotalEnableCalls())
	states := map[datatype.ID]subscription.State{}
	for _, u := range c.Units() {
		states[u.Type()] = u.State()
	}
	assert.Equal(t, map[datatype.ID]subscription.State{
		datatype.HeartRate:    subscription.StateEnabled,
		datatype.Steps:        subscription.StateEnabled,
		datatype.BloodGlucose: subscription.StateFailed,
	}, states)

	out, found := c.LastOutcome()
	require.True(t, found)
	assert.False(t, out.OK)
	assert.Equal(t, uint64(1), out.Invocation)
}

func TestSetupExactlyOneResolution(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		sim := capability.NewSimulator()
		c, _ := newCoordinator(t, sim, datatype.All()[:n]...)

		var calls atomic.Int32
		done := make(chan bool, 2)
		c.SetupObserversAsync(withTimeout(t), func(ok bool) {
			calls.Add(1)
			done <- ok
		})

		select {
		case ok := <-done:
			assert.True(t, ok, "n=%d", n)
		case <-time.After(2 * time.Second):
			t.Fatalf("n=%d: no resolution", n)
		}
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load(), "n=%d", n)
		assert.Equal(t, n, sim.TotalEnableCalls(), "n=%d", n)
	}
}

func TestSetupWaitsForAllEnableOutcomes(t *testing.T) {
	sim := capability.NewSimulator()
	sim.Hold(datatype.Steps)
	c, _ := newCoordinator(t, sim, datatype.HeartRate, datatype.Steps, datatype.BloodGlucose)

	result := make(chan bool, 1)
	c.SetupObserversAsync(withTimeout(t), func(ok bool) { result <- ok })

	require.Eventually(t, func() bool { return c.State() == StateAwaitingCompletion }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sim.TotalEnableCalls() == 3 }, time.Second, 5*time.Millisecond)

	select {
	case <-result:
		t.Fatal("resolved while an enable call was still pending")
	case <-time.After(100 * time.Millisecond):
	}

	sim.Release(datatype.Steps)
	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("not resolved after release")
	}
}

func TestSetupCapabilityUnavailable(t *testing.T) {
	src := &stubSource{}
	src.On("IsAvailable").Return(false)
	c, _ := newCoordinator(t, src, datatype.All()...)

	ok, err := c.Setup(withTimeout(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCapabilityUnavailable)
	assert.Empty(t, c.Units())

	src.AssertNotCalled(t, "RequestAuthorization", mock.Anything, mock.Anything)
	src.AssertNotCalled(t, "StartObservation", mock.Anything, mock.Anything)
	src.AssertNotCalled(t, "EnableBackgroundDelivery", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetupAuthorizationDenied(t *testing.T) {
	src := &stubSource{}
	src.On("IsAvailable").Return(true)
	src.On("RequestAuthorization", mock.Anything, datatype.All()).Return(false, nil)
	c, _ := newCoordinator(t, src, datatype.All()...)

	ok, err := c.Setup(withTimeout(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAuthorizationDenied)
	assert.Empty(t, c.Units())

	src.AssertExpectations(t)
	src.AssertNotCalled(t, "StartObservation", mock.Anything, mock.Anything)
}

func TestSetupAuthorizationError(t *testing.T) {
	sim := capability.NewSimulator()
	cause := errors.New("store locked")
	sim.SetAuthorization(false, cause)
	c, _ := newCoordinator(t, sim, datatype.HeartRate)

	ok, err := c.Setup(withTimeout(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrAuthorization)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, sim.TotalEnableCalls())
}

func TestSetupEmptyTypeSet(t *testing.T) {
	sim := capability.NewSimulator()
	c, _ := newCoordinator(t, sim)

	ok, err := c.Setup(withTimeout(t))
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, sim.AuthorizationCalls())
	assert.Empty(t, c.Units())
}

func TestSetupRejectsConcurrentInvocation(t *testing.T) {
	sim := capability.NewSimulator()
	sim.Hold(datatype.HeartRate)
	c, _ := newCoordinator(t, sim, datatype.HeartRate)

	first := make(chan bool, 1)
	c.SetupObserversAsync(withTimeout(t), func(ok bool) { first <- ok })
	require.Eventually(t, func() bool { return c.State() == StateAwaitingCompletion }, time.Second, 5*time.Millisecond)

	ok, err := c.Setup(withTimeout(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSetupInProgress)
	assert.Equal(t, uint64(1), c.Invocation())

	sim.Release(datatype.HeartRate)
	assert.True(t, <-first)
	assert.Equal(t, 1, sim.EnableCalls(datatype.HeartRate))
}

func TestSequentialSetupReplacesObservations(t *testing.T) {
	sim := capability.NewSimulator()
	c, _ := newCoordinator(t, sim, datatype.HeartRate, datatype.Steps)

	require.True(t, c.SetupObservers(withTimeout(t)))
	firstUnits := c.Units()
	require.True(t, c.SetupObservers(withTimeout(t)))

	assert.Equal(t, uint64(2), c.Invocation())
	assert.Equal(t, 1, sim.ActiveObservations(datatype.HeartRate))
	assert.Equal(t, 1, sim.ActiveObservations(datatype.Steps))
	assert.Equal(t, 2, sim.EnableCalls(datatype.HeartRate))
	assert.NotSame(t, firstUnits[0], c.Units()[0])
}

func TestSetupTimeout(t *testing.T) {
	sim := capability.NewSimulator()
	sim.Hold(datatype.Steps)
	defer sim.Release(datatype.Steps)

	cfg := DefaultConfig()
	cfg.Types = []datatype.ID{datatype.HeartRate, datatype.Steps}
	cfg.SetupTimeout = 50 * time.Millisecond
	c, err := NewCoordinator(sim, &recordingForwarder{}, cfg)
	require.NoError(t, err)
	defer c.Close()

	ok, err := c.Setup(withTimeout(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSetupTimeout)
	assert.Equal(t, StateResolved, c.State())
}

func TestSetupContextCancelled(t *testing.T) {
	sim := capability.NewSimulator()
	sim.Hold(datatype.Steps)
	defer sim.Release(datatype.Steps)
	c, _ := newCoordinator(t, sim, datatype.Steps)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ok, err := c.Setup(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseStopsObservations(t *testing.T) {
	sim := capability.NewSimulator()
	c, _ := newCoordinator(t, sim, datatype.HeartRate, datatype.Steps)
	require.True(t, c.SetupObservers(withTimeout(t)))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Empty(t, sim.ObservedTypes())

	ok, err := c.Setup(withTimeout(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseCancelsPendingEnable(t *testing.T) {
	sim := capability.NewSimulator()
	sim.Hold(datatype.Steps)
	defer sim.Release(datatype.Steps)
	c, _ := newCoordinator(t, sim, datatype.Steps)

	result := make(chan bool, 1)
	c.SetupObserversAsync(withTimeout(t), func(ok bool) { result <- ok })
	require.Eventually(t, func() bool { return sim.EnableCalls(datatype.Steps) == 1 }, time.Second, 5*time.Millisecond)

	c.Close()
	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not resolve the pending setup")
	}
}

func TestNewCoordinatorValidation(t *testing.T) {
	_, err := NewCoordinator(nil, &recordingForwarder{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = NewCoordinator(capability.NewSimulator(), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoForwarder)

	cfg := DefaultConfig()
	cfg.Types = []datatype.ID{datatype.HeartRate, datatype.ID(200)}
	_, err = NewCoordinator(capability.NewSimulator(), &recordingForwarder{}, cfg)
	assert.ErrorIs(t, err, datatype.ErrUnknownType)

	cfg.Types = []datatype.ID{datatype.Steps, datatype.Steps, datatype.HeartRate}
	c, err := NewCoordinator(capability.NewSimulator(), &recordingForwarder{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []datatype.ID{datatype.Steps, datatype.HeartRate}, c.Types())
}

func TestUpdatesForwardedPerTypeInOrder(t *testing.T) {
	sim := capability.NewSimulator()
	sim.Hold(datatype.Steps)
	defer sim.Release(datatype.Steps)
	c, fwd := newCoordinator(t, sim, datatype.HeartRate, datatype.Steps)

	c.SetupObserversAsync(withTimeout(t), nil)
	require.Eventually(t, func() bool { return len(sim.ObservedTypes()) == 2 }, time.Second, 5*time.Millisecond)

	// Steps is still pending enable; HeartRate updates must not wait on it.
	ctx := withTimeout(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, sim.Fire(ctx, datatype.HeartRate))
	}
	require.NoError(t, sim.Fire(ctx, datatype.Steps))

	assert.Equal(t, []datatype.ID{
		datatype.HeartRate, datatype.HeartRate, datatype.HeartRate, datatype.Steps,
	}, fwd.forwarded())
}

func TestFiveUpdatesProduceFiveNotifications(t *testing.T) {
	sim := capability.NewSimulator()

	var mu sync.Mutex
	var notified []relay.Event
	rel, err := relay.New(relay.Config{Sink: relay.FuncSink(func(_ context.Context, ev relay.Event) error {
		mu.Lock()
		notified = append(notified, ev)
		mu.Unlock()
		return nil
	})})
	require.NoError(t, err)
	rel.Start(context.Background())
	defer rel.Stop()

	cfg := DefaultConfig()
	cfg.Types = []datatype.ID{datatype.HeartRate}
	c, err := NewCoordinator(sim, rel, cfg)
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.SetupObservers(withTimeout(t)))
	for i := 0; i < 5; i++ {
		require.NoError(t, sim.Fire(withTimeout(t), datatype.HeartRate))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, ev := range notified {
		assert.Equal(t, datatype.HeartRate, ev.Type)
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestCallbackErrorNotForwarded(t *testing.T) {
	sim := capability.NewSimulator()
	c, fwd := newCoordinator(t, sim, datatype.HeartRate)
	require.True(t, c.SetupObservers(withTimeout(t)))

	require.NoError(t, sim.FireError(withTimeout(t), datatype.HeartRate, errors.New("query failed")))
	require.NoError(t, sim.Fire(withTimeout(t), datatype.HeartRate))
	assert.Equal(t, []datatype.ID{datatype.HeartRate}, fwd.forwarded())
}

func TestCoordinatorTracesStates(t *testing.T) {
	sim := capability.NewSimulator()
	trace := &traceRecorder{}
	cfg := DefaultConfig()
	cfg.Types = []datatype.ID{datatype.Steps}
	cfg.ProtocolLogger = trace
	c, err := NewCoordinator(sim, &recordingForwarder{}, cfg)
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.SetupObservers(withTimeout(t)))
	assert.Equal(t, []string{
		"AUTHORIZATION_PENDING", "FANNING_OUT", "AWAITING_COMPLETION", "RESOLVED",
	}, trace.coordinatorStates())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "AUTHORIZATION_PENDING", StateAuthorizationPending.String())
	assert.Equal(t, "FANNING_OUT", StateFanningOut.String())
	assert.Equal(t, "AWAITING_COMPLETION", StateAwaitingCompletion.String())
	assert.Equal(t, "RESOLVED", StateResolved.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
