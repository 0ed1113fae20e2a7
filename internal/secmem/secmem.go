// Package secmem holds secret-derived bytes in buffers that are zeroed when
// released.
//
// Go's garbage collector may still have copied the data elsewhere; zeroing
// only shortens the window during which the material sits in memory.
package secmem

import "crypto/subtle"

// Zero overwrites b with zeros.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// Buffer owns a byte slice and zeros it on Close. Close is idempotent, so the
// usual pattern is
//
//	buf := secmem.New(n)
//	defer buf.Close()
type Buffer struct {
	b      []byte
	closed bool
}

// New allocates a zero-length buffer with capacity n.
func New(n int) *Buffer {
	return &Buffer{b: make([]byte, 0, n)}
}

// From copies src into a new Buffer.
func From(src []byte) *Buffer {
	buf := New(len(src))
	buf.b = append(buf.b, src...)
	return buf
}

// Wrap takes ownership of b without copying.
func Wrap(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Bytes returns the live contents, nil once closed.
func (b *Buffer) Bytes() []byte {
	if b.closed {
		return nil
	}
	return b.b
}

func (b *Buffer) Len() int { return len(b.b) }

// Append grows the buffer. If growing reallocates, the old backing array is
// zeroed first.
func (b *Buffer) Append(p ...byte) {
	if b.closed {
		return
	}
	if len(b.b)+len(p) > cap(b.b) {
		grown := make([]byte, len(b.b), 2*(len(b.b)+len(p)))
		copy(grown, b.b)
		Zero(b.b[:cap(b.b)])
		b.b = grown
	}
	b.b = append(b.b, p...)
}

// Close zeros the whole backing array.
func (b *Buffer) Close() {
	if b.closed {
		return
	}
	Zero(b.b[:cap(b.b)])
	b.b = nil
	b.closed = true
}
