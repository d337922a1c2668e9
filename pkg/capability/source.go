// Package capability defines the contract consumed from the platform data
// source (authorization, live observation and background delivery) and
// provides an in-process Simulator implementing it.
//
// The platform is free to invoke update handlers on any goroutine and for
// several types at once. For a single type it waits until the handler has
// called the completion function before delivering the next update.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/healthwatch/healthwatch-go/pkg/datatype"
)

// Capability errors.
var (
	// ErrNotObserved is returned when an update is fired for a type nobody observes.
	ErrNotObserved = errors.New("type not observed")

	// ErrInvalidFrequency is returned when a frequency name is not recognized.
	ErrInvalidFrequency = errors.New("invalid delivery frequency")
)

// Frequency is the maximum rate at which background delivery wakes the process.
type Frequency uint8

const (
	// FrequencyImmediate delivers as soon as new data is stored.
	FrequencyImmediate Frequency = iota

	// FrequencyHourly delivers at most once per hour.
	FrequencyHourly

	// FrequencyDaily delivers at most once per day.
	FrequencyDaily

	// FrequencyWeekly delivers at most once per week.
	FrequencyWeekly
)

// String returns the frequency name.
func (f Frequency) String() string {
	switch f {
	case FrequencyImmediate:
		return "immediate"
	case FrequencyHourly:
		return "hourly"
	case FrequencyDaily:
		return "daily"
	case FrequencyWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// ParseFrequency parses a frequency name as produced by String.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "immediate":
		return FrequencyImmediate, nil
	case "hourly":
		return FrequencyHourly, nil
	case "daily":
		return FrequencyDaily, nil
	case "weekly":
		return FrequencyWeekly, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
}

// CompletionFunc acknowledges an update so the source may deliver the next
// one for the same type. Calling it more than once has no further effect.
type CompletionFunc func()

// UpdateHandler receives new-data callbacks for an observed type.
// err is non-nil when the platform reports a failure for this delivery.
// The handler must call done exactly once.
type UpdateHandler func(t datatype.ID, err error, done CompletionFunc)

// Observation is a registered live watch.
type Observation interface {
	// Type returns the observed data type.
	Type() datatype.ID

	// Stop ends the watch. Deliveries already in flight may still complete.
	Stop()
}

// Source is the platform capability that authorizes, observes and enables
// background delivery for data types.
type Source interface {
	// IsAvailable reports whether health data is available on this platform.
	IsAvailable() bool

	// RequestAuthorization asks for read access to the given types.
	// granted=false with a nil error means the request was denied.
	RequestAuthorization(ctx context.Context, types []datatype.ID) (granted bool, err error)

	// StartObservation registers a live watch for t. handler may fire zero or
	// more times, on arbitrary goroutines.
	StartObservation(t datatype.ID, handler UpdateHandler) (Observation, error)

	// EnableBackgroundDelivery enables out-of-process delivery for t.
	// It blocks until the platform reports the outcome.
	EnableBackgroundDelivery(ctx context.Context, t datatype.ID, freq Frequency) error
}
