// Package framer implements a growable, non-copying ring buffer and the
// protocol-specific frame recognizers built on top of it: line-delimited
// JSON (Stratum), length-prefixed Bitcoin P2P messages, and RFC 6455
// WebSocket frames. Each recognizer reports need-more-bytes, a ready frame
// occupying [lo, hi) of the buffer's current view, or a malformed frame.
package framer

import "fmt"

// DefaultCap is the hard cap on buffered-but-unconsumed bytes (spec.md
// §4.2: "16 MiB default").
const DefaultCap = 16 * 1024 * 1024

// Buffer accumulates bytes from a stream and hands out non-copying views
// into its backing array. Consume compacts eagerly: every partial
// Consume slides the remaining bytes to the front of the backing array,
// so buffered bytes always start at offset 0.
type Buffer struct {
	data []byte
	cap  int
}

// NewBuffer creates a Buffer with the given hard cap. A cap <= 0 uses
// DefaultCap.
func NewBuffer(cap int) *Buffer {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Buffer{cap: cap}
}

// ErrBufferFull is returned by Append when appending would exceed the
// buffer's hard cap.
var ErrBufferFull = fmt.Errorf("framer: buffer exceeds cap")

// Append adds b to the buffer's pending bytes. Returns ErrBufferFull
// (malformed, per spec.md §4.2/§8) if doing so would exceed the cap.
func (buf *Buffer) Append(b []byte) error {
	if len(buf.data)+len(b) > buf.cap {
		return ErrBufferFull
	}
	buf.data = append(buf.data, b...)
	return nil
}

// Peek returns a read-only view of all currently buffered bytes. The
// returned slice aliases the buffer's backing array and is invalidated by
// the next Append or Consume call.
func (buf *Buffer) Peek() []byte {
	return buf.data
}

// Len returns the number of currently buffered bytes.
func (buf *Buffer) Len() int {
	return len(buf.data)
}

// Consume discards the first n bytes, sliding the remainder to the front
// of the backing array without reallocating.
func (buf *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(buf.data) {
		buf.data = buf.data[:0]
		return
	}
	copy(buf.data, buf.data[n:])
	buf.data = buf.data[:len(buf.data)-n]
}

// Cap returns the buffer's hard byte cap.
func (buf *Buffer) Cap() int {
	return buf.cap
}
