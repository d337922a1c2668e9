package log

// Logger receives trace events. A nil Logger disables tracing wherever one
// is accepted.
type Logger interface {
	// Log records an event. Implementations must be safe for concurrent
	// use and must not block for long.
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Enabled reports whether l records anything.
func Enabled(l Logger) bool {
	switch l.(type) {
	case nil, NoopLogger, *NoopLogger:
		return false
	}
	return true
}

var _ Logger = NoopLogger{}
