package wire

// Status represents a method result status code.
type Status uint8

const (
	// StatusSuccess indicates the method completed and Value holds its result.
	StatusSuccess Status = 0

	// StatusNotImplemented indicates the method is not handled on this channel.
	StatusNotImplemented Status = 1

	// StatusUnknownChannel indicates the call targeted a channel that is not registered.
	StatusUnknownChannel Status = 2

	// StatusInvalidArgument indicates the call arguments were rejected.
	StatusInvalidArgument Status = 3

	// StatusInternalError indicates an unexpected native-side failure.
	StatusInternalError Status = 4
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	case StatusUnknownChannel:
		return "UNKNOWN_CHANNEL"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}
