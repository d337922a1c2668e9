package wire

import (
	"errors"
	"fmt"
)

// Message validation errors.
var (
	ErrInvalidCallID = errors.New("call ID 0 is reserved")
	ErrMissingMethod = errors.New("method name is required")
	ErrUnknownKind   = errors.New("unknown message kind")
)

// Kind identifies the message kind (key 1 of every message).
type Kind uint8

const (
	// KindUnknown is the zero value; never sent.
	KindUnknown Kind = 0

	// KindCall is a method invocation from the shell.
	KindCall Kind = 1

	// KindResult answers a method invocation.
	KindResult Kind = 2

	// KindEvent is a one-way notification to the shell.
	KindEvent Kind = 3
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCall:
		return "CALL"
	case KindResult:
		return "RESULT"
	case KindEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// MethodCall invokes a named method on a channel.
type MethodCall struct {
	Kind      Kind   `cbor:"1,keyasint"`
	CallID    uint32 `cbor:"2,keyasint"`
	Channel   string `cbor:"3,keyasint"`
	Method    string `cbor:"4,keyasint"`
	Arguments any    `cbor:"5,keyasint,omitempty"`
}

// Validate checks if the call is well formed.
func (c *MethodCall) Validate() error {
	if c.CallID == 0 {
		return ErrInvalidCallID
	}
	if c.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// MethodResult is the single answer to a MethodCall.
type MethodResult struct {
	Kind    Kind   `cbor:"1,keyasint"`
	CallID  uint32 `cbor:"2,keyasint"`
	Status  Status `cbor:"3,keyasint"`
	Value   any    `cbor:"4,keyasint,omitempty"`
	Message string `cbor:"5,keyasint,omitempty"`
}

// IsSuccess returns true if the result indicates success.
func (r *MethodResult) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// Bool returns the result value as a boolean.
// ok is false if the value is absent or not a boolean.
func (r *MethodResult) Bool() (value, ok bool) {
	b, ok := r.Value.(bool)
	return b, ok
}

// Event is a one-way notification on a channel.
type Event struct {
	Kind      Kind   `cbor:"1,keyasint"`
	Channel   string `cbor:"3,keyasint"`
	Method    string `cbor:"4,keyasint"`
	Arguments any    `cbor:"5,keyasint,omitempty"`
}

// Validate checks if the event is well formed.
func (e *Event) Validate() error {
	if e.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// Success builds a successful result for call.
func Success(call *MethodCall, value any) *MethodResult {
	return &MethodResult{
		Kind:   KindResult,
		CallID: call.CallID,
		Status: StatusSuccess,
		Value:  value,
	}
}

// Failure builds an error result for call.
func Failure(call *MethodCall, status Status, format string, args ...any) *MethodResult {
	return &MethodResult{
		Kind:    KindResult,
		CallID:  call.CallID,
		Status:  status,
		Message: fmt.Sprintf(format, args...),
	}
}
