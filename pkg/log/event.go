package log

import (
	"time"

	"github.com/healthwatch/healthwatch-go/pkg/wire"
)

// Event is a single entry of the protocol trace.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the bridge connection (UUID). Empty for
	// service-layer events not tied to a connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// RemoteAddr is the shell address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Channel is the method channel name, when known.
	Channel string `cbor:"7,keyasint,omitempty"`

	// Invocation numbers coordinator setup invocations (0 if not applicable).
	Invocation uint64 `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Update      *UpdateEvent      `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerService is the coordinator and subscription layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 1
	CategoryError   Category = 2
	CategoryUpdate  Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded bridge message at the wire layer.
type MessageEvent struct {
	Type MessageType `cbor:"1,keyasint"`

	// CallID correlates calls and results (0 for events).
	CallID uint32 `cbor:"2,keyasint,omitempty"`

	// Method is the invoked method or event name.
	Method string `cbor:"3,keyasint,omitempty"`

	// Status is set for results.
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// Value is the result value or call arguments.
	Value any `cbor:"5,keyasint,omitempty"`

	// ProcessingTime is the duration from call receipt to result send
	// (results only). Stored as nanoseconds.
	ProcessingTime *time.Duration `cbor:"6,keyasint,omitempty"`
}

// MessageType distinguishes calls, results and events.
type MessageType uint8

const (
	MessageTypeCall   MessageType = 0
	MessageTypeResult MessageType = 1
	MessageTypeEvent  MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeCall:
		return "CALL"
	case MessageTypeResult:
		return "RESULT"
	case MessageTypeEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection, coordinator and subscription
// lifecycle transitions.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// Subject names the instance that changed, e.g. a data type for a
	// subscription. Empty for singletons.
	Subject string `cbor:"2,keyasint,omitempty"`

	OldState string `cbor:"3,keyasint,omitempty"`
	NewState string `cbor:"4,keyasint"`
	Reason   string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	StateEntityConnection   StateEntity = 0
	StateEntityCoordinator  StateEntity = 1
	StateEntitySubscription StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityCoordinator:
		return "COORDINATOR"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// UpdateEvent records a data update delivered by the capability source.
type UpdateEvent struct {
	// Type is the data type name.
	Type string `cbor:"1,keyasint"`

	// Seq is the relay sequence number (0 if not forwarded).
	Seq uint64 `cbor:"2,keyasint,omitempty"`

	// Forwarded is false when the callback carried an error.
	Forwarded bool `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// CallMessage builds the trace payload for a method call.
func CallMessage(call *wire.MethodCall) *MessageEvent {
	return &MessageEvent{
		Type:   MessageTypeCall,
		CallID: call.CallID,
		Method: call.Method,
		Value:  call.Arguments,
	}
}

// ResultMessage builds the trace payload for a method result.
// method is the name of the call being answered.
func ResultMessage(method string, res *wire.MethodResult, elapsed time.Duration) *MessageEvent {
	status := res.Status
	return &MessageEvent{
		Type:           MessageTypeResult,
		CallID:         res.CallID,
		Method:         method,
		Status:         &status,
		Value:          res.Value,
		ProcessingTime: &elapsed,
	}
}

// EventMessage builds the trace payload for an outbound event.
func EventMessage(ev *wire.Event) *MessageEvent {
	return &MessageEvent{
		Type:   MessageTypeEvent,
		Method: ev.Method,
		Value:  ev.Arguments,
	}
}
