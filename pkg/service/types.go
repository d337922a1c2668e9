package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/capability"
	"github.com/healthwatch/healthwatch-go/pkg/datatype"
	"github.com/healthwatch/healthwatch-go/pkg/log"
)

// Setup errors. Each one resolves the invocation to false.
var (
	ErrCapabilityUnavailable = errors.New("health data is not available on this platform")
	ErrAuthorizationDenied   = errors.New("authorization denied")
	ErrAuthorization         = errors.New("authorization request failed")
	ErrSetupInProgress       = errors.New("observer setup already in progress")
	ErrSetupTimeout          = errors.New("observer setup timed out")
	ErrSetupIncomplete       = errors.New("one or more observers failed to enable")
	ErrClosed                = errors.New("coordinator closed")
)

// Construction errors.
var (
	ErrNoSource    = errors.New("capability source is required")
	ErrNoForwarder = errors.New("update forwarder is required")
)

// State is the coordinator state for the current invocation.
type State uint8

const (
	StateIdle State = iota
	StateAuthorizationPending
	StateFanningOut
	StateAwaitingCompletion
	StateResolved
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAuthorizationPending:
		return "AUTHORIZATION_PENDING"
	case StateFanningOut:
		return "FANNING_OUT"
	case StateAwaitingCompletion:
		return "AWAITING_COMPLETION"
	case StateResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Coordinator.
type Config struct {
	// Types are the data types to observe. Duplicates are ignored.
	Types []datatype.ID

	// Frequency is the background delivery frequency requested for every type.
	Frequency capability.Frequency

	// SetupTimeout bounds the wait for enable outcomes. Zero waits forever.
	SetupTimeout time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives trace events. Nil disables tracing.
	ProtocolLogger log.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// DefaultConfig observes every known type with immediate delivery.
func DefaultConfig() Config {
	return Config{
		Types:     datatype.All(),
		Frequency: capability.FrequencyImmediate,
	}
}

// Outcome describes one resolved invocation.
type Outcome struct {
	Invocation uint64
	OK         bool
	Err        error
	Duration   time.Duration
}
