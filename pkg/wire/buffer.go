// Package wire implements the fixed-capacity scratch buffer that every
// chunk writer and per-thread recording lane is built on: big-endian
// fixed-width encoding, LEB128-style variable-width encoding, and a
// patchable 5-byte slot for back-filling record sizes after the fact.
//
// Buffers never grow. Growth on a hot sampling path would mean an
// allocation, and allocation is exactly what an async-signal-safe event
// encoder must never do. A full buffer is a
// typed error the caller is expected to react to by flushing.
package wire

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

const (
	// BufferSize is the capacity of a standard per-lane recording buffer.
	BufferSize = 64 << 10
	// FlushThreshold is the fill level at which a caller must flush before
	// emitting another event, so that no single event write can overrun
	// the buffer between flush checks.
	FlushThreshold = 60 << 10
	// SmallBufferSize is used for short-lived scratch buffers (e.g. a
	// single event encoded before being copied into a lane).
	SmallBufferSize = 1 << 10

	// MaxUTF8Length is the longest string payload putUtf8 will emit
	// without truncating.
	MaxUTF8Length = 8191

	// patchSlotSize is the width of a back-patchable size field: every
	// byte but the last carries the continuation bit, regardless of the
	// value's true magnitude, so a slot reserved before the payload is
	// known can always be overwritten in place later.
	patchSlotSize = 5

	stringTag = byte(3)
	nullTag   = byte(0)
)

// ErrBufferFull is returned by any Put* call that would write past the
// buffer's fixed capacity.
var ErrBufferFull = errors.New("wire: buffer full")

// Buffer is a fixed-capacity, append-only byte scratchpad.
type Buffer struct {
	data   []byte
	offset int
}

// NewBuffer allocates a buffer with the given fixed capacity.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Reset rewinds the buffer to empty without releasing its backing array.
func (b *Buffer) Reset() { b.offset = 0 }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return b.offset }

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Remaining returns the number of bytes still available before ErrBufferFull.
func (b *Buffer) Remaining() int { return len(b.data) - b.offset }

// Bytes returns the written portion of the buffer. The slice aliases the
// buffer's backing array and is only valid until the next Reset.
func (b *Buffer) Bytes() []byte { return b.data[:b.offset] }

// NeedsFlush reports whether the buffer has crossed FlushThreshold and a
// caller should drain it before emitting another event.
func (b *Buffer) NeedsFlush(flushThreshold int) bool {
	return b.offset >= flushThreshold
}

func (b *Buffer) reserve(n int) error {
	if b.offset+n > len(b.data) {
		return ErrBufferFull
	}
	return nil
}

// Put8 appends a single byte.
func (b *Buffer) Put8(v byte) error {
	if err := b.reserve(1); err != nil {
		return err
	}
	b.data[b.offset] = v
	b.offset++
	return nil
}

// Put16 appends a big-endian uint16.
func (b *Buffer) Put16(v uint16) error {
	if err := b.reserve(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[b.offset:], v)
	b.offset += 2
	return nil
}

// Put32 appends a big-endian uint32.
func (b *Buffer) Put32(v uint32) error {
	if err := b.reserve(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[b.offset:], v)
	b.offset += 4
	return nil
}

// Put64 appends a big-endian uint64.
func (b *Buffer) Put64(v uint64) error {
	if err := b.reserve(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.data[b.offset:], v)
	b.offset += 8
	return nil
}

// PutVar32 appends v as a LEB128-style variable-width unsigned integer,
// low 7 bits first, continuation bit in the MSB of every byte but the
// last.
func (b *Buffer) PutVar32(v uint32) error {
	return b.PutVar64(uint64(v))
}

// PutVar64 appends v as a LEB128-style variable-width unsigned integer.
// Signed fields use this same encoding on their unsigned two's-complement
// representation.
func (b *Buffer) PutVar64(v uint64) error {
	n := varintLen(v)
	if err := b.reserve(n); err != nil {
		return err
	}
	off := b.offset
	for v > 0x7f {
		b.data[off] = byte(v) | 0x80
		v >>= 7
		off++
	}
	b.data[off] = byte(v)
	b.offset = off + 1
	return nil
}

func varintLen(v uint64) int {
	if v == 0 {
		return 1
	}
	bitlen := bits.Len64(v)
	return (bitlen + 6) / 7
}

// PutUTF8 appends a tagged UTF-8 string: tag byte 3, a length varint, then
// the raw bytes. A nil-equivalent empty string is still tagged 3 with
// length 0; callers that need the JFR "null string" encoding should call
// PutNullString instead. Strings longer than MaxUTF8Length are truncated.
func (b *Buffer) PutUTF8(s string) error {
	if len(s) > MaxUTF8Length {
		s = s[:MaxUTF8Length]
	}
	if err := b.Put8(stringTag); err != nil {
		return err
	}
	if err := b.PutVar32(uint32(len(s))); err != nil {
		return err
	}
	if err := b.reserve(len(s)); err != nil {
		return err
	}
	copy(b.data[b.offset:], s)
	b.offset += len(s)
	return nil
}

// PutNullString appends the JFR encoding of a null string: a single tag
// byte of 0.
func (b *Buffer) PutNullString() error {
	return b.Put8(nullTag)
}

// Skip reserves an n-byte patchable slot (for a record size that isn't
// known until the payload has been written) and returns its offset:
// PatchSlotSize bytes for a PatchVar32 size, 1 byte for a Put8At size.
func (b *Buffer) Skip(n int) (int, error) {
	if err := b.reserve(n); err != nil {
		return 0, err
	}
	off := b.offset
	b.offset += n
	return off, nil
}

// PatchVar32 back-patches the 5-byte slot at offset with v, using a fixed
// 5-byte encoding so the rewrite never changes the overall record length
// regardless of v's magnitude: every byte but the last carries the
// continuation bit.
func (b *Buffer) PatchVar32(offset int, v uint32) {
	b.data[offset] = byte(v) | 0x80
	b.data[offset+1] = byte(v>>7) | 0x80
	b.data[offset+2] = byte(v>>14) | 0x80
	b.data[offset+3] = byte(v>>21) | 0x80
	b.data[offset+4] = byte(v >> 28)
}

// Put8At overwrites a single already-written byte at offset, used to
// back-patch single-byte event-record sizes.
func (b *Buffer) Put8At(offset int, v byte) {
	b.data[offset] = v
}

// PatchSlotSize is the width reserved by Skip for a back-patchable record
// size, exported so callers (e.g. pkg/chunk) can compute record overhead
// without duplicating the constant.
const PatchSlotSize = patchSlotSize
