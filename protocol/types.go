package protocol

import "fmt"

type StreamDirection int64

const (
	Uplink   StreamDirection = 0
	Downlink StreamDirection = 1
)

func (d StreamDirection) Valid() bool {
	return d == Uplink || d == Downlink
}

func (d StreamDirection) String() string {
	switch d {
	case Uplink:
		return "uplink"
	case Downlink:
		return "downlink"
	default:
		return fmt.Sprintf("direction(%d)", int64(d))
	}
}

type PacketType int64

const (
	Unreliable PacketType = 0
	Reliable   PacketType = 1
	Receipt    PacketType = 2
)

func (p PacketType) Valid() bool {
	return p >= Unreliable && p <= Receipt
}

func (p PacketType) String() string {
	switch p {
	case Unreliable:
		return "unreliable"
	case Reliable:
		return "reliable"
	case Receipt:
		return "receipt"
	default:
		return fmt.Sprintf("packetType(%d)", int64(p))
	}
}

// StreamType identifies one of the logical streams multiplexed over a link.
type StreamType int64

const (
	Firmware StreamType = 0
	Cmd      StreamType = 1
	Telem    StreamType = 2
	User     StreamType = 3

	// NumStreamTypes is the number of logical streams. Stream types are dense
	// so they can index fixed size arrays.
	NumStreamTypes = 4
)

// StreamTypes lists every stream in wire order.
var StreamTypes = [NumStreamTypes]StreamType{Firmware, Cmd, Telem, User}

func (s StreamType) Valid() bool {
	return s >= Firmware && s <= User
}

func (s StreamType) String() string {
	switch s {
	case Firmware:
		return "firmware"
	case Cmd:
		return "cmd"
	case Telem:
		return "telem"
	case User:
		return "user"
	default:
		return fmt.Sprintf("stream(%d)", int64(s))
	}
}

// ParseStreamType is the inverse of StreamType.String.
func ParseStreamType(name string) (StreamType, error) {
	for _, s := range StreamTypes {
		if s.String() == name {
			return s, nil
		}
	}

	return 0, fmt.Errorf("Failed to parse '%s': %w", name, ErrUnknownStream)
}

// ReceiptType is the outcome a receipt reports for a reliable packet.
type ReceiptType int64

const (
	ReceiptOk                ReceiptType = 0
	ReceiptPacketError       ReceiptType = 1
	ReceiptPayloadError      ReceiptType = 2
	ReceiptCounterCorrection ReceiptType = 3
)

func (r ReceiptType) Valid() bool {
	return r >= ReceiptOk && r <= ReceiptCounterCorrection
}

func (r ReceiptType) String() string {
	switch r {
	case ReceiptOk:
		return "ok"
	case ReceiptPacketError:
		return "packetError"
	case ReceiptPayloadError:
		return "payloadError"
	case ReceiptCounterCorrection:
		return "counterCorrection"
	default:
		return fmt.Sprintf("receipt(%d)", int64(r))
	}
}
