package log

// MultiLogger fans each event out to a fixed set of loggers, in the order
// they were given.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger builds a MultiLogger from the enabled loggers in loggers.
// Nil and no-op entries are dropped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if Enabled(l) {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Combine returns the cheapest Logger equivalent to fanning out to loggers:
// nil when none is enabled, the logger itself when exactly one is, and a
// MultiLogger otherwise.
func Combine(loggers ...Logger) Logger {
	m := NewMultiLogger(loggers...)
	switch len(m.loggers) {
	case 0:
		return nil
	case 1:
		return m.loggers[0]
	}
	return m
}

// Len returns the number of loggers events are sent to.
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

// Log sends the event to every logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
