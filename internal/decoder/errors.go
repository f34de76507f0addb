package decoder

import "fmt"

// FailureKind classifies why an event could not be decoded.
type FailureKind string

// Decode failure kinds.
const (
	FailureWrongSize      FailureKind = "wrong-size"
	FailureInvalidAddress FailureKind = "invalid-address"
	FailureCorruptPayload FailureKind = "corrupt-payload"
)

// DecodeError is a classified decode failure for a single event.
// It is returned as a value and never aborts sibling events.
type DecodeError struct {
	Kind     FailureKind
	Size     int // payload length in bytes, -1 if the payload could not be read
	LogIndex int // index of the marker line, -1 when decoding raw bytes
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode event (log %d, %d bytes): %s: %v", e.LogIndex, e.Size, e.Kind, e.Err)
	}
	return fmt.Sprintf("decode event (log %d, %d bytes): %s", e.LogIndex, e.Size, e.Kind)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsUnsupported reports whether the failure is an unknown layout size.
func (e *DecodeError) IsUnsupported() bool {
	return e.Kind == FailureWrongSize
}
