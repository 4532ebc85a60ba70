// Package ringbuf implements a fixed capacity circular byte store.
//
// Readers never get a copy of the buffered bytes. Instead they look at the
// buffer through ReadableChunks, which exposes at most two contiguous slices
// (the second one only exists when the readable region wraps around the end
// of the backing array), and then Erase what they have consumed.
package ringbuf

import "errors"

var ErrZeroCapacity = errors.New("ringbuf: capacity must be greater than zero")

// Chunks is a view of the readable region of a RingBuf. First always
// precedes Second. Both slices alias the ring's storage and are only valid
// until the next Write, Erase or Clear.
type Chunks struct {
	First  []byte
	Second []byte
}

// Len returns the number of readable bytes across both chunks.
func (c Chunks) Len() int {
	return len(c.First) + len(c.Second)
}

// At returns the byte at logical offset i.
func (c Chunks) At(i int) byte {
	if i < len(c.First) {
		return c.First[i]
	}

	return c.Second[i-len(c.First)]
}

// CopyTo copies readable bytes starting at logical offset off into dst,
// bridging the split between the chunks. It returns the number of bytes
// copied.
func (c Chunks) CopyTo(dst []byte, off int) int {
	n := 0

	if off < len(c.First) {
		n = copy(dst, c.First[off:])
		off = 0
	} else {
		off -= len(c.First)
	}

	if n < len(dst) && off < len(c.Second) {
		n += copy(dst[n:], c.Second[off:])
	}

	return n
}

// RingBuf is not safe for concurrent use. It is owned by exactly one
// protocol engine.
type RingBuf struct {
	data []byte
	head int
	size int
}

func New(capacity int) (*RingBuf, error) {
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}

	return &RingBuf{data: make([]byte, capacity)}, nil
}

// Len is the number of readable bytes.
func (r *RingBuf) Len() int {
	return r.size
}

func (r *RingBuf) Cap() int {
	return len(r.data)
}

// Free is the number of bytes that can be written before the buffer is full.
func (r *RingBuf) Free() int {
	return len(r.data) - r.size
}

// Write appends as many bytes of p as fit into the free space and returns
// how many were written.
func (r *RingBuf) Write(p []byte) int {
	if len(p) > r.Free() {
		p = p[:r.Free()]
	}

	tail := (r.head + r.size) % len(r.data)
	n := copy(r.data[tail:], p)
	if n < len(p) {
		copy(r.data, p[n:])
	}

	r.size += len(p)
	return len(p)
}

// Erase drops up to n bytes from the front of the buffer.
func (r *RingBuf) Erase(n int) {
	if n >= r.size {
		r.Clear()
		return
	}

	r.head = (r.head + n) % len(r.data)
	r.size -= n
}

func (r *RingBuf) Clear() {
	r.head = 0
	r.size = 0
}

// ReadableChunks returns the readable region as a chunk pair.
func (r *RingBuf) ReadableChunks() Chunks {
	if r.size == 0 {
		return Chunks{}
	}

	end := r.head + r.size
	if end <= len(r.data) {
		return Chunks{First: r.data[r.head:end]}
	}

	return Chunks{
		First:  r.data[r.head:],
		Second: r.data[:end-len(r.data)],
	}
}
