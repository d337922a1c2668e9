package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for bridge messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for bridge messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility with newer shells.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// PeekKind returns the kind of an encoded message without decoding the rest.
func PeekKind(data []byte) (Kind, error) {
	var peek struct {
		Kind Kind `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return KindUnknown, fmt.Errorf("failed to peek message: %w", err)
	}
	switch peek.Kind {
	case KindCall, KindResult, KindEvent:
		return peek.Kind, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %d", ErrUnknownKind, peek.Kind)
	}
}

// EncodeCall encodes a method call. The kind is set automatically.
func EncodeCall(call *MethodCall) ([]byte, error) {
	if err := call.Validate(); err != nil {
		return nil, fmt.Errorf("invalid call: %w", err)
	}
	call.Kind = KindCall
	return Marshal(call)
}

// DecodeCall decodes and validates a method call.
func DecodeCall(data []byte) (*MethodCall, error) {
	var call MethodCall
	if err := Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to decode call: %w", err)
	}
	if call.Kind != KindCall {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnknownKind, KindCall, call.Kind)
	}
	if err := call.Validate(); err != nil {
		return nil, fmt.Errorf("invalid call: %w", err)
	}
	return &call, nil
}

// EncodeResult encodes a method result. The kind is set automatically.
func EncodeResult(res *MethodResult) ([]byte, error) {
	res.Kind = KindResult
	return Marshal(res)
}

// DecodeResult decodes a method result.
func DecodeResult(data []byte) (*MethodResult, error) {
	var res MethodResult
	if err := Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if res.Kind != KindResult {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnknownKind, KindResult, res.Kind)
	}
	return &res, nil
}

// EncodeEvent encodes an event. The kind is set automatically.
func EncodeEvent(ev *Event) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	ev.Kind = KindEvent
	return Marshal(ev)
}

// DecodeEvent decodes and validates an event.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Kind != KindEvent {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnknownKind, KindEvent, ev.Kind)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return &ev, nil
}
