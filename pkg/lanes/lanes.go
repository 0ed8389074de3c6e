// Package lanes holds the fixed set of per-producer recording buffers a
// sampling collaborator writes into. Lane count is fixed at construction
// (sized to the sampling concurrency level, rounded up to a power of two
// so Select can mask instead of mod) and never grows: growing under
// signal-handler pressure would require an allocation, and allocation is
// exactly what an async-signal-safe event path must never do.
package lanes

import (
	"math/bits"

	"golang.org/x/sys/unix"

	"github.com/flightcore/recorder/pkg/wire"
)

// RawWriter is the minimal write surface a Lanes flush needs: a single
// positioned write, so concurrent flushes from different callers never
// race on a shared file offset (grounds pkg/chunk's use of this too).
type RawWriter interface {
	WriteAt(p []byte, off int64) (int, error)
}

// fdWriter adapts a raw fd to RawWriter via pwrite, matching the
// signal-safe, offset-explicit write discipline used throughout.
type fdWriter int

func (w fdWriter) WriteAt(p []byte, off int64) (int, error) {
	return unix.Pwrite(int(w), p, off)
}

// NewFDWriter wraps an open file descriptor as a RawWriter.
func NewFDWriter(fd int) RawWriter { return fdWriter(fd) }

// Lanes is a fixed-size array of per-producer buffers.
type Lanes struct {
	buffers []*wire.Buffer
	mask    int
}

// New constructs count lanes, each with bufferSize bytes of scratch.
// count is rounded up to the next power of two so Select can mask
// instead of mod.
func New(count, bufferSize int) *Lanes {
	if count < 1 {
		count = 1
	}
	n := nextPowerOfTwo(count)
	buffers := make([]*wire.Buffer, n)
	for i := range buffers {
		buffers[i] = wire.NewBuffer(bufferSize)
	}
	return &Lanes{buffers: buffers, mask: n - 1}
}

func nextPowerOfTwo(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}

// Count returns the number of lanes.
func (l *Lanes) Count() int {
	return len(l.buffers)
}

// Lane returns the buffer for idx, wrapping idx into range. Callers pick
// idx by thread-id hashing or a caller-supplied lock index.
func (l *Lanes) Lane(idx int) *wire.Buffer {
	return l.buffers[idx&l.mask]
}

// Select derives a lane index from a thread id by hashing, for callers
// that have no better locality hint.
func (l *Lanes) Select(tid int32) int {
	h := uint32(tid)
	h ^= h >> 15
	h *= 0x2c1b3c6d
	h ^= h >> 12
	h *= 0x297a2d39
	h ^= h >> 15
	return int(h) & l.mask
}

// Flush drains every non-empty lane to w at off, in lane order, and
// resets each buffer for reuse. The caller (the recording controller)
// must hold the recording lock exclusively: flush is the one operation
// where per-lane buffers are touched by something other than their
// owning sampler.
// It returns the total number of bytes written.
func (l *Lanes) Flush(w RawWriter, off int64) (int64, error) {
	var total int64
	for _, buf := range l.buffers {
		if buf.Len() == 0 {
			continue
		}
		n, err := w.WriteAt(buf.Bytes(), off+total)
		if err != nil {
			return total, err
		}
		total += int64(n)
		buf.Reset()
	}
	return total, nil
}
