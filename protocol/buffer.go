package protocol

import "io"

// Buffer is an append-only byte buffer with a hard capacity. Engines own
// one per output slot instead of sharing static scratch space.
type Buffer struct {
	data []byte
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Write appends p, or nothing at all if p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Available() {
		return 0, ErrNotEnoughSpace
	}

	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *Buffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

// Available is the number of bytes that can still be written.
func (b *Buffer) Available() int {
	return cap(b.data) - len(b.data)
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes aliases the buffer contents until the next Reset.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

var _ io.Writer = (*Buffer)(nil)
var _ io.ByteWriter = (*Buffer)(nil)
