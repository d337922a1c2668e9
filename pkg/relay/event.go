package relay

import (
	"context"
	"errors"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
)

// Event announces that new data of Type is available. It carries no payload.
type Event struct {
	Type      datatype.ID
	Seq       uint64
	Timestamp time.Time
}

// Sink receives relayed events. Notify is only ever called from the relay's
// dispatch goroutine.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// FuncSink adapts a function to Sink.
type FuncSink func(ctx context.Context, ev Event) error

// Notify calls f.
func (f FuncSink) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// MultiSink notifies several sinks in order. Every sink is called even if an
// earlier one fails; the errors are joined.
type MultiSink []Sink

// Notify implements Sink.
func (m MultiSink) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = FuncSink(nil)
	_ Sink = MultiSink(nil)
)
