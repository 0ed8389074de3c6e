package chunk

import (
	"bytes"
	"encoding/binary"
	"io"
)

// HeaderSize is the fixed byte length of a chunk header.
const HeaderSize = 68

// Magic is the chunk header's 4-byte magic value.
var Magic = [4]byte{'F', 'L', 'R', 0x00}

const (
	versionMajor = 2
	versionMinor = 0

	// PlaceholderChunkSize is written into the header's chunk-size field
	// before the chunk is closed, so a reader encountering a partial
	// trace file can skip an unfinished chunk rather than misread it.
	PlaceholderChunkSize uint64 = 1 << 30

	// Features is the fixed feature bitmask this writer declares.
	Features uint32 = 1
)

// Header is the in-memory form of a chunk's 68-byte fixed header.
// ChunkSize, CPoolOffset, and DurationNanos are placeholders until the
// chunk closes, at which point they are patched in place via pwrite.
type Header struct {
	ChunkSize      uint64
	CPoolOffset    uint64
	MetaOffset     uint64
	StartTimeNanos uint64
	DurationNanos  uint64
	StartTicks     uint64
	TicksPerSecond uint64
}

// field byte offsets within the 68-byte header, used by both Encode and
// the in-place patch helpers.
const (
	offChunkSize   = 8
	offCPool       = 16
	offMeta        = 24
	offStartNanos  = 32
	offDuration    = 40
	offStartTicks  = 48
	offTicksPerSec = 56
	offFeatures    = 64
)

// Encode writes the full 68-byte header into a fresh slice.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.BigEndian.PutUint16(buf[4:6], versionMajor)
	binary.BigEndian.PutUint16(buf[6:8], versionMinor)
	binary.BigEndian.PutUint64(buf[offChunkSize:], h.ChunkSize)
	binary.BigEndian.PutUint64(buf[offCPool:], h.CPoolOffset)
	binary.BigEndian.PutUint64(buf[offMeta:], h.MetaOffset)
	binary.BigEndian.PutUint64(buf[offStartNanos:], h.StartTimeNanos)
	binary.BigEndian.PutUint64(buf[offDuration:], h.DurationNanos)
	binary.BigEndian.PutUint64(buf[offStartTicks:], h.StartTicks)
	binary.BigEndian.PutUint64(buf[offTicksPerSec:], h.TicksPerSecond)
	binary.BigEndian.PutUint32(buf[offFeatures:], Features)
	return buf
}

// patchUint64 encodes a single 8-byte big-endian patch for one header
// field, for use with a positioned pwrite at chunkStart+fieldOffset.
func patchUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// ErrBadMagic is returned by DecodeHeader when buf doesn't start with
// the expected magic bytes.
var ErrBadMagic = errBadMagic{}

type errBadMagic struct{}

func (errBadMagic) Error() string { return "chunk: bad magic, not a flight-recording chunk header" }

// DecodeHeader parses a 68-byte chunk header, the read-side counterpart
// of Encode.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	if !bytes.Equal(buf[0:4], Magic[:]) {
		return Header{}, ErrBadMagic
	}
	return Header{
		ChunkSize:      binary.BigEndian.Uint64(buf[offChunkSize:]),
		CPoolOffset:    binary.BigEndian.Uint64(buf[offCPool:]),
		MetaOffset:     binary.BigEndian.Uint64(buf[offMeta:]),
		StartTimeNanos: binary.BigEndian.Uint64(buf[offStartNanos:]),
		DurationNanos:  binary.BigEndian.Uint64(buf[offDuration:]),
		StartTicks:     binary.BigEndian.Uint64(buf[offStartTicks:]),
		TicksPerSecond: binary.BigEndian.Uint64(buf[offTicksPerSec:]),
	}, nil
}
