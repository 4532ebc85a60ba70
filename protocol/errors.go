package protocol

import "errors"

var (
	// Framing
	ErrFrameTooLarge = errors.New("Frame is larger than the maximum allowed frame size")
	ErrFrameTooShort = errors.New("Frame is malformed, it appears to be too short")

	// Integrity
	ErrInvalidCrc = errors.New("Frame failed the crc16 check")

	// Header
	ErrInvalidHeader      = errors.New("Frame has a malformed header")
	ErrInvalidDirection   = errors.New("Frame has an unexpected stream direction")
	ErrInvalidSrcAddress  = errors.New("Frame has an unexpected source address")
	ErrInvalidDestAddress = errors.New("Frame has an unexpected destination address")
	ErrUnknownStream      = errors.New("Unknown stream type")
	ErrUnsupportedPacket  = errors.New("Packet type is not supported on this stream in this direction")

	// Sequence
	ErrCounterMismatch = errors.New("Reliable packet counter does not match the expected counter")

	// Payload
	ErrInvalidReceipt  = errors.New("Receipt payload is malformed")
	ErrPayloadRejected = errors.New("Payload was rejected by its stream handler")

	// Capacity
	ErrNotEnoughSpace = errors.New("Not enough space left in the output buffer")
)

// Kind classifies protocol errors by how the engines recover from them.
type Kind string

const (
	KindNone      Kind = ""
	KindFraming   Kind = "FramingError"
	KindIntegrity Kind = "IntegrityError"
	KindHeader    Kind = "HeaderError"
	KindSequence  Kind = "SequenceError"
	KindPayload   Kind = "PayloadError"
	KindCapacity  Kind = "CapacityError"
	KindUnknown   Kind = "UnknownError"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrFrameTooLarge, KindFraming},
	{ErrFrameTooShort, KindFraming},
	{ErrInvalidCrc, KindIntegrity},
	{ErrInvalidHeader, KindHeader},
	{ErrInvalidDirection, KindHeader},
	{ErrInvalidSrcAddress, KindHeader},
	{ErrInvalidDestAddress, KindHeader},
	{ErrUnknownStream, KindHeader},
	{ErrUnsupportedPacket, KindHeader},
	{ErrCounterMismatch, KindSequence},
	{ErrInvalidReceipt, KindPayload},
	{ErrPayloadRejected, KindPayload},
	{ErrNotEnoughSpace, KindCapacity},
}

// KindOf returns the Kind of err, looking through wrapped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return KindUnknown
}
