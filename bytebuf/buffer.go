// Package bytebuf provides a fixed-capacity byte buffer with position/limit
// cursor discipline. A Buffer is allocated once and reused: Clear resets the
// cursors for a fresh fill, Flip turns the filled region into the readable one.
package bytebuf

import (
	"errors"
	"io"
)

// ErrFull is returned by Fill when the buffer has no free space left.
var ErrFull = errors.New("bytebuf: buffer full")

// Buffer is a fixed-capacity byte buffer. The backing array never grows or
// moves after construction, so a Buffer can be kept by identity and reused
// across many reads.
//
// The invariant 0 <= position <= limit <= capacity always holds.
type Buffer struct {
	data     []byte
	position int
	limit    int
}

// New allocates a Buffer with the given capacity. A non-positive capacity
// yields a zero-capacity buffer.
//
// Parameters:
//   - capacity: The fixed number of bytes the buffer can hold
//
// Returns:
//   - A cleared Buffer ready for writing
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}

	return &Buffer{
		data:  make([]byte, capacity),
		limit: capacity,
	}
}

// Cap returns the fixed capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// Position returns the current cursor position.
func (b *Buffer) Position() int { return b.position }

// Limit returns the current limit.
func (b *Buffer) Limit() int { return b.limit }

// Remaining returns the number of bytes between position and limit.
func (b *Buffer) Remaining() int { return b.limit - b.position }

// HasRemaining reports whether any bytes are left between position and limit.
func (b *Buffer) HasRemaining() bool { return b.position < b.limit }

// Clear prepares the buffer for a fresh fill: position goes to zero and limit
// to capacity. The content is not zeroed; previously read bytes become
// unreachable through the cursors.
func (b *Buffer) Clear() {
	b.position = 0
	b.limit = len(b.data)
}

// Flip switches from filling to draining: limit becomes the current position
// and position goes back to zero.
func (b *Buffer) Flip() {
	b.limit = b.position
	b.position = 0
}

// Fill performs exactly one Read from r into the free region of the
// buffer and advances the position by the number of bytes read. It does not
// loop; a single readiness event maps to a single call.
//
// Parameters:
//   - r: The reader to fill from
//
// Returns:
//   - The number of bytes read
//   - ErrFull if there is no space left, otherwise the error returned by r
func (b *Buffer) Fill(r io.Reader) (int, error) {
	if !b.HasRemaining() {
		return 0, ErrFull
	}

	n, err := r.Read(b.data[b.position:b.limit])
	if n > 0 {
		b.position += n
	}

	return n, err
}

// Write copies p into the free region and advances the position. It returns
// ErrFull together with the count copied when p does not fit entirely.
func (b *Buffer) Write(p []byte) (int, error) {
	n := copy(b.data[b.position:b.limit], p)
	b.position += n
	if n < len(p) {
		return n, ErrFull
	}

	return n, nil
}

// Bytes returns the readable region between position and limit. The slice
// aliases the backing array and is only valid until the next Clear.
func (b *Buffer) Bytes() []byte {
	return b.data[b.position:b.limit]
}

// String returns a copy of the readable region as a string.
func (b *Buffer) String() string {
	return string(b.Bytes())
}
