package bridge

import (
	"context"
	"io"
	"log/slog"

	"github.com/healthwatch/healthwatch-go/pkg/relay"
	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

// Broadcaster sends an event to every connected shell.
type Broadcaster interface {
	Broadcast(ev *wire.Event) (int, error)
}

// Notifier turns relayed updates into healthDataUpdated events.
// It implements relay.Sink.
type Notifier struct {
	target  Broadcaster
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a notifier that emits on channel through target.
func NewNotifier(target Broadcaster, channel string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{target: target, channel: channel, logger: logger}
}

// Notify emits one healthDataUpdated event without payload. An event with no
// connected shell is dropped.
func (n *Notifier) Notify(_ context.Context, ev relay.Event) error {
	sent, err := n.target.Broadcast(&wire.Event{
		Channel: n.channel,
		Method:  MethodDataUpdated,
	})
	if sent == 0 && err == nil {
		n.logger.Debug("no shell connected, update dropped", "type", ev.Type.String(), "seq", ev.Seq)
	}
	return err
}

var _ relay.Sink = (*Notifier)(nil)
