package protocol

import (
	"encoding/binary"
	"fmt"
)

// Packet is a decoded frame.
type Packet struct {
	Header  Header
	Payload []byte
}

// DecodeFrame parses a staged frame, that is everything from the length
// field through the crc (the separator has already been stripped by the
// Scanner). The returned payload aliases frame.
//
// Any failure rejects the whole frame, there is no partial acceptance.
func DecodeFrame(frame []byte) (Packet, error) {
	size := len(frame)
	if size < lengthSize+crcSize {
		return Packet{}, fmt.Errorf("Failed to decode %d byte frame: %w", size, ErrFrameTooShort)
	}

	if length := int(binary.LittleEndian.Uint16(frame)); lengthSize+length != size {
		return Packet{}, fmt.Errorf("Failed to decode frame, length field says %d bytes but have %d: %w",
			lengthSize+length, size, ErrFrameTooShort)
	}

	want := binary.LittleEndian.Uint16(frame[size-crcSize:])
	if got := Checksum(frame[:size-crcSize]); got != want {
		return Packet{}, fmt.Errorf("Failed to decode frame, crc is %#04x but expected %#04x: %w",
			got, want, ErrInvalidCrc)
	}

	body := frame[lengthSize : size-crcSize]

	header, n, err := DecodeHeader(body)
	if err != nil {
		return Packet{}, err
	}

	return Packet{Header: header, Payload: body[n:]}, nil
}
