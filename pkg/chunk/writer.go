package chunk

import (
	"time"

	"github.com/flightcore/recorder/pkg/constpool"
	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/lanes"
	"github.com/flightcore/recorder/pkg/wire"
)

// State is the chunk writer's lifecycle state: Writing -> Rotating
// (finishing the current chunk, starting the next) -> Writing again.
// Closing is terminal.
type State int

const (
	StateWriting State = iota
	StateRotating
	StateClosing
)

// RotationPolicy configures the thresholds that trigger a chunk
// rotation.
type RotationPolicy struct {
	MaxBytes int64
	MaxAge   time.Duration
}

const (
	minChunkBytes = 256 << 10
	minChunkAge   = 5 * time.Second

	// cpoolScratchSize bounds one chunk's constant-pool block. Unlike
	// per-lane recording buffers this is not on the signal-handling
	// path, so it can be generous without violating the signal-safety
	// constraint.
	cpoolScratchSize = 4 << 20
)

// Normalize floors both thresholds at their spec-mandated minimums.
func (p RotationPolicy) Normalize() RotationPolicy {
	if p.MaxBytes < minChunkBytes {
		p.MaxBytes = minChunkBytes
	}
	if p.MaxAge < minChunkAge {
		p.MaxAge = minChunkAge
	}
	return p
}

// Clock abstracts wall-clock and monotonic-ticks sources so rotation
// timing and header timestamps are testable without sleeping.
type Clock interface {
	Now() time.Time
	Ticks() uint64
	TicksPerSecond() uint64
}

// Writer owns one output file descriptor and drives it through the
// chunk lifecycle: open a header, accumulate events, rotate on policy,
// and close.
type Writer struct {
	w        lanes.RawWriter
	clock    Clock
	policy   RotationPolicy
	resolver *constpool.Resolver
	preamble PreambleOptions

	state State

	chunkStartOffset int64
	bytesWritten     int64
	chunkStartWall   time.Time
	header           Header

	scratch *wire.Buffer

	threads *threadTable
	traces  *stackTraceTable
}

// New constructs a Writer over w (an already-open output), starting the
// first chunk at file offset 0. resolver binds the writer to the method
// map and string dictionaries it consults when emitting each chunk's
// constant pool, and preamble controls which optional preamble sections
// (system info, native libraries) each chunk carries.
func New(w lanes.RawWriter, clock Clock, policy RotationPolicy, resolver *constpool.Resolver, preamble PreambleOptions) (*Writer, error) {
	cw := &Writer{
		w:        w,
		clock:    clock,
		policy:   policy.Normalize(),
		resolver: resolver,
		preamble: preamble,
		scratch:  wire.NewBuffer(cpoolScratchSize),
		threads:  newThreadTable(),
		traces:   newStackTraceTable(),
	}
	if err := cw.openChunk(0); err != nil {
		return nil, err
	}
	return cw, nil
}

// Preamble returns the preamble options this writer was constructed
// with, so a foreign dump can carry them into the fresh writer it opens.
func (cw *Writer) Preamble() PreambleOptions {
	return cw.preamble
}

func (cw *Writer) openChunk(offset int64) error {
	now := cw.clock.Now()
	cw.header = Header{
		ChunkSize:      PlaceholderChunkSize,
		StartTimeNanos: uint64(now.UnixNano()),
		StartTicks:     cw.clock.Ticks(),
		TicksPerSecond: cw.clock.TicksPerSecond(),
	}
	if _, err := cw.w.WriteAt(cw.header.Encode(), offset); err != nil {
		return err
	}
	cw.chunkStartOffset = offset
	cw.bytesWritten = HeaderSize
	cw.chunkStartWall = now

	cw.scratch.Reset()
	if err := writePreamble(cw.scratch, cw.preamble, cw.policy, cw.resolver, uint64(now.UnixNano())); err != nil {
		return err
	}
	n, err := cw.w.WriteAt(cw.scratch.Bytes(), offset+HeaderSize)
	if err != nil {
		return err
	}
	cw.bytesWritten += int64(n)

	cw.state = StateWriting
	return nil
}

// InternThread records that tid (displayed as name) was referenced by
// an event in the current chunk.
func (cw *Writer) InternThread(tid int32, name string) {
	cw.threads.Intern(tid, name)
}

// InternTrace deduplicates a call trace within the current chunk and
// returns its dense id, resolving each frame's Key in place first so
// stack-trace emission doesn't need to re-resolve.
func (cw *Writer) InternTrace(trace events.CallTrace) uint32 {
	for i := range trace.Frames {
		trace.Frames[i].Key = cw.resolver.Methods.Resolve(trace.Frames[i].ID).Key
	}
	return cw.traces.Intern(trace)
}

// LookupTrace returns the frames previously interned under id in the
// current chunk, for a caller (the liveness tracker) that kept only the
// dense id and needs the frames back to re-intern into whatever chunk
// is active when it flushes.
func (cw *Writer) LookupTrace(id uint32) (events.CallTrace, bool) {
	return cw.traces.Lookup(id)
}

// ShouldRotate reports whether the rotation policy's size or age
// threshold has been crossed as of wallNow.
func (cw *Writer) ShouldRotate(wallNow time.Time) bool {
	if cw.bytesWritten >= cw.policy.MaxBytes {
		return true
	}
	return wallNow.Sub(cw.chunkStartWall) >= cw.policy.MaxAge
}

// AccountBytes records bytes already written to the output by the
// caller (e.g. a lanes.Flush) into this chunk's byte range, so
// size-based rotation sees them.
func (cw *Writer) AccountBytes(n int64) {
	cw.bytesWritten += n
}

// finishChunk writes the current chunk's constant pool and patches its
// header in place, but does not open a new chunk or advance the
// resolver — Rotate and Close each decide what happens next.
func (cw *Writer) finishChunk() error {
	cpoolOffset := cw.chunkStartOffset + cw.bytesWritten

	cw.scratch.Reset()
	if _, err := writeConstantPool(cw.scratch, cw.resolver, cw.threads, cw.traces); err != nil {
		return err
	}
	n, err := cw.w.WriteAt(cw.scratch.Bytes(), cpoolOffset)
	if err != nil {
		return err
	}
	cw.bytesWritten += int64(n)

	return cw.patchHeader(cpoolOffset)
}

// Rotate finishes the current chunk (writes its constant pool, patches
// its header) and opens the next one, advancing resolver's base id.
// Rotation order is: flush per-thread buffers (the caller's
// responsibility, via AccountBytes before calling Rotate), write
// constant pool, patch chunk header, advance base_id, reset method-map
// marks, reset dictionaries' watermarks.
func (cw *Writer) Rotate() error {
	cw.state = StateRotating

	if err := cw.finishChunk(); err != nil {
		return err
	}

	cw.threads.ResetMarks()
	cw.traces.ResetMarks()
	cw.resolver.Advance()

	return cw.openChunk(cw.chunkStartOffset + cw.bytesWritten)
}

// patchHeader back-patches the now-known chunk size, cpool offset, and
// duration into the header bytes already on disk, via pwrite.
func (cw *Writer) patchHeader(cpoolOffset int64) error {
	cw.header.ChunkSize = uint64(cw.bytesWritten)
	cw.header.CPoolOffset = uint64(cpoolOffset - cw.chunkStartOffset)
	cw.header.MetaOffset = HeaderSize
	cw.header.DurationNanos = uint64(cw.clock.Now().Sub(cw.chunkStartWall))

	patches := []struct {
		fieldOffset int
		value       uint64
	}{
		{offChunkSize, cw.header.ChunkSize},
		{offCPool, cw.header.CPoolOffset},
		{offMeta, cw.header.MetaOffset},
		{offDuration, cw.header.DurationNanos},
	}
	for _, p := range patches {
		if _, err := cw.w.WriteAt(patchUint64(p.value), cw.chunkStartOffset+int64(p.fieldOffset)); err != nil {
			return err
		}
	}
	return nil
}

// Close finishes the active chunk and marks the writer terminal, without
// opening a new chunk. The caller must have already flushed all
// per-lane buffers.
func (cw *Writer) Close() error {
	cw.state = StateRotating
	if err := cw.finishChunk(); err != nil {
		return err
	}
	cw.state = StateClosing
	return nil
}

// State returns the writer's current lifecycle state.
func (cw *Writer) State() State {
	return cw.state
}

// ChunkStartOffset returns the file offset at which the current chunk began.
func (cw *Writer) ChunkStartOffset() int64 {
	return cw.chunkStartOffset
}

// BytesWritten returns the number of bytes written into the current chunk.
func (cw *Writer) BytesWritten() int64 {
	return cw.bytesWritten
}

// Policy returns the writer's normalized rotation policy, so a fresh
// writer opened after a foreign dump can inherit it.
func (cw *Writer) Policy() RotationPolicy {
	return cw.policy
}
