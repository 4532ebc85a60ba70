package protocol

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/luma/photon/internal/ringbuf"
)

// Scanner extracts frames from a ring buffer that is continuously appended
// to by a transport. It never copies buffered bytes until a complete
// candidate frame is known to be present.
type Scanner struct {
	buf          *ringbuf.RingBuf
	staging      []byte
	maxFrameSize int

	// pending is the size, separator included, of the frame returned by
	// the last call to Next.
	pending int

	log *zap.Logger
}

func NewScanner(buf *ringbuf.RingBuf, maxFrameSize int, log *zap.Logger) *Scanner {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	return &Scanner{
		buf:          buf,
		staging:      make([]byte, maxFrameSize),
		maxFrameSize: maxFrameSize,
		log:          log,
	}
}

// Next looks for the next candidate frame.
//
// Bytes preceding a separator are junk and are dropped. A nil frame with a
// nil error means more input is needed. A candidate whose length field
// exceeds the maximum frame size is treated as a false separator: one byte
// is dropped and ErrFrameTooLarge returned so the caller can scan again.
//
// A returned frame spans the length field through the crc and is only valid
// until the next call to Next. The frame stays in the ring buffer until the
// caller either Consumes it or Skips past its first byte.
func (s *Scanner) Next() ([]byte, error) {
	s.pending = 0

	chunks := s.buf.ReadableChunks()
	n := chunks.Len()
	if n == 0 {
		return nil, nil
	}

	pos := findSeparator(chunks)
	if pos < 0 {
		junk := n
		if chunks.At(n-1) == SeparatorHi {
			// Might be the first half of a separator still in flight
			junk--
		}

		s.dropJunk(junk)
		return nil, nil
	}

	if pos > 0 {
		s.dropJunk(pos)
		chunks = s.buf.ReadableChunks()
		n = chunks.Len()
	}

	if n < PrefixSize {
		return nil, nil
	}

	expected := lengthSize + (int(chunks.At(2)) | int(chunks.At(3))<<8)
	if expected > s.maxFrameSize {
		s.Skip()
		return nil, fmt.Errorf("Failed to scan %d byte frame: %w", expected, ErrFrameTooLarge)
	}

	if n-separatorSize < expected {
		return nil, nil
	}

	frame := s.staging[:expected]
	chunks.CopyTo(frame, separatorSize)
	s.pending = separatorSize + expected

	return frame, nil
}

// Consume drops the frame returned by the last call to Next.
func (s *Scanner) Consume() {
	s.buf.Erase(s.pending)
	s.pending = 0
}

// Skip drops a single byte so that the next scan resynchronises inside the
// current candidate frame.
func (s *Scanner) Skip() {
	s.buf.Erase(1)
	s.pending = 0
}

// Buffered is the number of bytes waiting to be scanned.
func (s *Scanner) Buffered() int {
	return s.buf.Len()
}

func (s *Scanner) dropJunk(size int) {
	if size == 0 {
		return
	}

	s.log.Debug("Received junk", zap.Int("bytes", size))
	s.buf.Erase(size)
}

// findSeparator returns the logical offset of the first complete separator
// in chunks, or -1.
func findSeparator(chunks ringbuf.Chunks) int {
	n := chunks.Len()

	for i := indexHi(chunks, 0); i >= 0 && i+1 < n; i = indexHi(chunks, i+1) {
		if chunks.At(i+1) == SeparatorLo {
			return i
		}
	}

	return -1
}

func indexHi(chunks ringbuf.Chunks, from int) int {
	first := len(chunks.First)

	if from < first {
		if i := bytes.IndexByte(chunks.First[from:], SeparatorHi); i >= 0 {
			return from + i
		}
		from = first
	}

	if i := bytes.IndexByte(chunks.Second[from-first:], SeparatorHi); i >= 0 {
		return from + i
	}

	return -1
}
