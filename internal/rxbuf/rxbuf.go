// Package rxbuf provides the growable receive buffer used by framed links.
//
// The buffer keeps unconsumed bytes in [0, Len()) of a backing array of
// Cap() bytes. Data is appended at the top, messages are located with
// Index and removed with Take, which moves the remaining bytes to the base.
package rxbuf

import (
	"bytes"
	"errors"

	"github.com/arloliu/go-obslink/internal/util"
)

const (
	DefaultInitialSize = 512
	DefaultMaxSize     = 1 << 20
)

// ErrFull is returned when growing the buffer would exceed its maximum size.
var ErrFull = errors.New("rxbuf: buffer size limit reached")

// Buffer is a receive buffer. It is not safe for concurrent use.
type Buffer struct {
	data []byte
	top  int
	max  int
}

// New creates a buffer with the given initial capacity that can grow up to
// max bytes. Non-positive arguments select the defaults.
func New(initial, max int) *Buffer {
	if initial <= 0 {
		initial = DefaultInitialSize
	}
	if max <= 0 {
		max = DefaultMaxSize
	}
	if initial > max {
		initial = max
	}

	return &Buffer{data: make([]byte, initial), max: max}
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int { return b.top }

// Cap returns the current capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Max returns the capacity limit.
func (b *Buffer) Max() int { return b.max }

// Bytes returns the unconsumed bytes. The slice is only valid until the next
// mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.top] }

// Free returns the writable tail of the buffer, growing the buffer first when
// fewer than min bytes are free. Bytes written into the tail become part of
// the buffer only after Commit.
func (b *Buffer) Free(min int) ([]byte, error) {
	if min < 1 {
		min = 1
	}

	if len(b.data)-b.top < min {
		if err := b.grow(b.top + min); err != nil {
			return nil, err
		}
	}

	return b.data[b.top:], nil
}

func (b *Buffer) grow(need int) error {
	if need > b.max {
		return ErrFull
	}

	size := len(b.data) * 2
	if size < need {
		size = need
	}
	if size > b.max {
		size = b.max
	}

	data := make([]byte, size)
	copy(data, b.data[:b.top])
	b.data = data

	return nil
}

// Commit marks n bytes of the slice returned by Free as received.
func (b *Buffer) Commit(n int) {
	if n < 0 || b.top+n > len(b.data) {
		panic("rxbuf: commit out of range")
	}
	b.top += n
}

// Append copies p to the top of the buffer, growing it as needed.
func (b *Buffer) Append(p []byte) error {
	free, err := b.Free(len(p))
	if err != nil {
		return err
	}
	b.Commit(copy(free, p))

	return nil
}

// Index returns the position of the first delim at or after from, or -1.
func (b *Buffer) Index(delim byte, from int) int {
	if from < 0 {
		from = 0
	}
	if from >= b.top {
		return -1
	}

	i := bytes.IndexByte(b.data[from:b.top], delim)
	if i < 0 {
		return -1
	}

	return from + i
}

// Take returns a copy of the bytes before pos and drops them together with
// the byte at pos. The bytes after pos are moved to the base of the buffer.
func (b *Buffer) Take(pos int) []byte {
	if pos < 0 || pos >= b.top {
		panic("rxbuf: take out of range")
	}

	msg := util.CloneSlice(b.data[:pos], pos)
	b.Discard(pos + 1)

	return msg
}

// Next extracts the first message terminated by delim.
func (b *Buffer) Next(delim byte) ([]byte, bool) {
	pos := b.Index(delim, 0)
	if pos < 0 {
		return nil, false
	}

	return b.Take(pos), true
}

// Discard drops the first n unconsumed bytes.
func (b *Buffer) Discard(n int) {
	if n > b.top {
		n = b.top
	}
	if n <= 0 {
		return
	}

	rest := copy(b.data, b.data[n:b.top])
	b.top = rest
}

// Reset drops all unconsumed bytes.
func (b *Buffer) Reset() {
	b.top = 0
}
