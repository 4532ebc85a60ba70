package protocol

import (
	"encoding/binary"
	"fmt"
)

// ReceiptPayload is the body of a Receipt packet. The receipt's header
// carries the counter of the reliable packet it answers.
type ReceiptPayload struct {
	Type ReceiptType

	// Counter is the receiver's expected reliable counter. Only present on
	// counter corrections.
	Counter uint16

	// Data is whatever the stream handler produced for an Ok receipt.
	Data []byte
}

func AppendReceipt(dst []byte, r ReceiptPayload) []byte {
	var scratch [binary.MaxVarintLen64]byte

	n := binary.PutVarint(scratch[:], int64(r.Type))
	dst = append(dst, scratch[:n]...)

	if r.Type == ReceiptCounterCorrection {
		return append(dst, byte(r.Counter), byte(r.Counter>>8))
	}

	return append(dst, r.Data...)
}

// DecodeReceipt parses a receipt body. Data aliases payload.
func DecodeReceipt(payload []byte) (ReceiptPayload, error) {
	t, n := binary.Varint(payload)
	if n <= 0 {
		return ReceiptPayload{}, fmt.Errorf("Failed to read receipt type: %w", ErrInvalidReceipt)
	}

	r := ReceiptPayload{Type: ReceiptType(t)}
	if !r.Type.Valid() {
		return ReceiptPayload{}, fmt.Errorf("Failed to parse %s: %w", r.Type, ErrInvalidReceipt)
	}

	rest := payload[n:]

	if r.Type == ReceiptCounterCorrection {
		if len(rest) < 2 {
			return ReceiptPayload{}, fmt.Errorf("Failed to read counter correction: %w", ErrInvalidReceipt)
		}

		r.Counter = binary.LittleEndian.Uint16(rest)
		return r, nil
	}

	r.Data = rest
	return r, nil
}
