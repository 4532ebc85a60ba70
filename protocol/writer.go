package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Separator marks the start of every frame. It is written big endian.
	Separator uint16 = 0x9c3e

	SeparatorHi = byte(Separator >> 8)
	SeparatorLo = byte(Separator & 0xff)

	// DefaultMaxFrameSize bounds a frame measured from the length field
	// through the crc, i.e. 2 + the value of the length field.
	DefaultMaxFrameSize = 1024

	separatorSize = 2
	lengthSize    = 2
	crcSize       = 2

	// PrefixSize is the number of bytes that precede the header.
	PrefixSize = separatorSize + lengthSize

	// Overhead is every byte of a frame that is not header or payload.
	Overhead = PrefixSize + crcSize
)

// AppendFrame appends a complete frame for h and payload to dst:
//
//	separator(2B BE) | length(2B LE) | header | payload | crc16(2B LE)
//
// length counts the header, the payload and the crc. The crc covers the
// length field through the end of the payload. If the frame would exceed
// maxFrameSize dst is returned unchanged along with ErrFrameTooLarge.
func AppendFrame(dst []byte, h Header, payload []byte, maxFrameSize int) ([]byte, error) {
	start := len(dst)

	dst = append(dst, SeparatorHi, SeparatorLo, 0, 0)
	dst = AppendHeader(dst, h)
	dst = append(dst, payload...)

	length := len(dst) - start - PrefixSize + crcSize
	if lengthSize+length > maxFrameSize || length > 0xffff {
		return dst[:start], fmt.Errorf("Failed to encode %d byte %s %s frame: %w",
			lengthSize+length, h.StreamType, h.PacketType, ErrFrameTooLarge)
	}

	binary.LittleEndian.PutUint16(dst[start+separatorSize:], uint16(length))

	crc := Checksum(dst[start+separatorSize:])
	return append(dst, byte(crc), byte(crc>>8)), nil
}

// EncodeFrame returns a newly allocated frame bounded by DefaultMaxFrameSize.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, Overhead+MaxHeaderSize+len(payload)), h, payload, DefaultMaxFrameSize)
}

// WriteFrame encodes a frame and writes it to w in a single Write call.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	frame, err := EncodeFrame(h, payload)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}
