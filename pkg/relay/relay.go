package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
)

// ErrNoSink is returned by New when no sink is configured.
var ErrNoSink = errors.New("relay sink is required")

// Config configures a Relay.
type Config struct {
	// Sink receives every forwarded event.
	Sink Sink

	// Logger is the operational logger. Nil discards.
	Logger *slog.Logger

	// OnDelivered is called on the dispatch goroutine after each Notify,
	// with its error.
	OnDelivered func(ev Event, err error)
}

// Relay queues forwarded events and delivers them from one goroutine.
type Relay struct {
	sink        Sink
	logger      *slog.Logger
	onDelivered func(Event, error)

	mu      sync.Mutex
	queue   []Event
	stopped bool
	wake    chan struct{}

	seq       atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a relay. Events forwarded before Start are queued.
func New(cfg Config) (*Relay, error) {
	if cfg.Sink == nil {
		return nil, ErrNoSink
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Relay{
		sink:        cfg.Sink,
		logger:      logger,
		onDelivered: cfg.OnDelivered,
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Forward queues an update for t and returns its sequence number.
// It returns 0 and drops the update once the relay is stopped.
func (r *Relay) Forward(t datatype.ID) uint64 {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		r.logger.Warn("relay stopped, dropping update", "type", t.String())
		return 0
	}
	ev := Event{Type: t, Seq: r.seq.Add(1), Timestamp: time.Now()}
	r.queue = append(r.queue, ev)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return ev.Seq
}

// Start launches the dispatch goroutine. ctx is passed to the sink; when it
// ends the relay stops.
func (r *Relay) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	go r.dispatch(ctx)
}

// Stop stops accepting events, delivers what is already queued and waits
// for the dispatcher to exit. Safe to call more than once.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		if r.running.Load() {
			<-r.doneCh
		}
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	if r.running.Load() {
		<-r.doneCh
	}
}

// QueueDepth returns the number of events waiting for delivery.
func (r *Relay) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Delivered returns the number of events the sink accepted.
func (r *Relay) Delivered() uint64 {
	return r.delivered.Load()
}

// Failed returns the number of events the sink rejected.
func (r *Relay) Failed() uint64 {
	return r.failed.Load()
}

func (r *Relay) dispatch(ctx context.Context) {
	defer close(r.doneCh)

	for {
		r.drain(ctx)

		select {
		case <-r.wake:
		case <-r.stopCh:
			r.drain(ctx)
			return
		case <-ctx.Done():
			r.mu.Lock()
			r.stopped = true
			dropped := len(r.queue)
			r.queue = nil
			r.mu.Unlock()
			if dropped > 0 {
				r.logger.Warn("relay context ended, dropping queued updates", "count", dropped)
			}
			return
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		ev := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.deliver(ctx, ev)
	}
}

func (r *Relay) deliver(ctx context.Context, ev Event) {
	err := r.sink.Notify(ctx, ev)
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("update notification failed", "type", ev.Type.String(), "seq", ev.Seq, "error", err)
	} else {
		r.delivered.Add(1)
		r.logger.Debug("update notified", "type", ev.Type.String(), "seq", ev.Seq)
	}
	if r.onDelivered != nil {
		r.onDelivered(ev, err)
	}
}
