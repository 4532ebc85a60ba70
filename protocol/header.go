package protocol

import (
	"encoding/binary"
	"fmt"
)

// MaxHeaderSize bounds the encoded size of a Header: five varints of at most
// 10 bytes each, the fixed width counter and the tick time varint.
const MaxHeaderSize = 5*binary.MaxVarintLen64 + 2 + binary.MaxVarintLen64

// Header precedes the payload of every packet.
type Header struct {
	SrcAddress  uint64
	DestAddress uint64
	Direction   StreamDirection
	PacketType  PacketType
	StreamType  StreamType
	Counter     uint16
	TickTime    uint64
}

// AppendHeader appends the wire encoding of h to dst.
//
// Addresses and the tick time are unsigned varints, the three discriminants
// are signed (zigzag) varints and the counter is always two bytes little
// endian.
func AppendHeader(dst []byte, h Header) []byte {
	var scratch [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(scratch[:], h.SrcAddress)
	dst = append(dst, scratch[:n]...)

	n = binary.PutUvarint(scratch[:], h.DestAddress)
	dst = append(dst, scratch[:n]...)

	n = binary.PutVarint(scratch[:], int64(h.Direction))
	dst = append(dst, scratch[:n]...)

	n = binary.PutVarint(scratch[:], int64(h.PacketType))
	dst = append(dst, scratch[:n]...)

	n = binary.PutVarint(scratch[:], int64(h.StreamType))
	dst = append(dst, scratch[:n]...)

	dst = append(dst, byte(h.Counter), byte(h.Counter>>8))

	n = binary.PutUvarint(scratch[:], h.TickTime)
	return append(dst, scratch[:n]...)
}

// DecodeHeader parses a Header from the front of data and returns it along
// with the number of bytes it occupied.
func DecodeHeader(data []byte) (h Header, n int, err error) {
	r := reader{data: data}

	h.SrcAddress = r.uvarint()
	h.DestAddress = r.uvarint()
	h.Direction = StreamDirection(r.varint())
	h.PacketType = PacketType(r.varint())
	h.StreamType = StreamType(r.varint())
	h.Counter = r.uint16le()
	h.TickTime = r.uvarint()

	if r.err != nil {
		return Header{}, 0, fmt.Errorf("Failed to read %s: %w", r.field, ErrInvalidHeader)
	}

	switch {
	case !h.Direction.Valid():
		return Header{}, 0, fmt.Errorf("Failed to parse %s: %w", h.Direction, ErrInvalidHeader)
	case !h.PacketType.Valid():
		return Header{}, 0, fmt.Errorf("Failed to parse %s: %w", h.PacketType, ErrInvalidHeader)
	case !h.StreamType.Valid():
		return Header{}, 0, fmt.Errorf("Failed to parse %s: %w", h.StreamType, ErrInvalidHeader)
	}

	return h, r.pos, nil
}

// reader decodes fields sequentially and remembers the first failure.
type reader struct {
	data  []byte
	pos   int
	err   error
	field string
	count int
}

var headerFields = [...]string{"src address", "dest address", "stream direction", "packet type", "stream type", "counter", "tick time"}

func (r *reader) fail() {
	if r.err == nil {
		r.err = ErrInvalidHeader
		if r.count < len(headerFields) {
			r.field = headerFields[r.count]
		}
	}
}

func (r *reader) uvarint() uint64 {
	defer func() { r.count++ }()
	if r.err != nil {
		return 0
	}

	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.fail()
		return 0
	}

	r.pos += n
	return v
}

func (r *reader) varint() int64 {
	defer func() { r.count++ }()
	if r.err != nil {
		return 0
	}

	v, n := binary.Varint(r.data[r.pos:])
	if n <= 0 {
		r.fail()
		return 0
	}

	r.pos += n
	return v
}

func (r *reader) uint16le() uint16 {
	defer func() { r.count++ }()
	if r.err != nil {
		return 0
	}

	if len(r.data)-r.pos < 2 {
		r.fail()
		return 0
	}

	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}
