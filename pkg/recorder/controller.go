// Package recorder implements the recording controller: the lifecycle
// (start/stop/dump/flush) and lock arbitration that sits between
// sampling collaborators and the chunk writer.
//
// The concurrency discipline is a reader-biased lock where event paths
// try-acquire shared and drop the sample on failure (the recorder is
// inactive), while stop/dump take exclusive access so teardown never
// waits indefinitely for sampling paths. Go's sync.RWMutex.TryLock/
// TryRLock (added in Go 1.18) stands in for a hand-rolled spinlock/CAS
// state machine — it is exactly the try-acquire reader-biased primitive
// this component needs, with no third-party library required.
package recorder

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flightcore/recorder/pkg/chunk"
	"github.com/flightcore/recorder/pkg/constpool"
	"github.com/flightcore/recorder/pkg/cpuload"
	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/lanes"
	"github.com/flightcore/recorder/pkg/liveness"
	"github.com/flightcore/recorder/pkg/threadfilter"
	"github.com/flightcore/recorder/pkg/xlog"
)

// ErrInactive is returned by control-plane calls made while the
// recorder is not running.
var ErrInactive = errors.New("recorder: not active")

// ErrAlreadyActive is returned by Start when the recorder is already running.
var ErrAlreadyActive = errors.New("recorder: already active")

// FileOpener opens the target output path for a fresh recording,
// returning a handle the controller can pwrite into and eventually
// close. Kept as an interface so tests can substitute an in-memory
// file.
type FileOpener interface {
	Open(path string) (OutputFile, error)
}

// OutputFile is the file handle surface the controller needs.
type OutputFile interface {
	lanes.RawWriter
	io.ReaderAt
	io.Closer
	Truncate(size int64) error
}

// Config configures a Start call.
type Config struct {
	Path           string
	RotationPolicy chunk.RotationPolicy
	LaneCount      int
	LaneBufferSize int
	LivenessConfig liveness.Config
	Preamble       chunk.PreambleOptions
}

// Controller is the process-wide recording-core singleton: one active
// recording at a time, guarded by a reader-biased lock.
type Controller struct {
	log    xlog.Logger
	opener FileOpener

	mu sync.RWMutex // shared: event paths (try-acquire); exclusive: stop/dump

	active   atomic.Bool
	file     OutputFile
	lanes    *lanes.Lanes
	writer   *chunk.Writer
	resolver *constpool.Resolver
	clock    chunk.Clock

	threadFilter *threadfilter.Set
	liveness     *liveness.Tracker
	cpuMonitor   *cpuload.Monitor

	droppedEvents atomic.Uint64
}

// New constructs an inactive Controller.
func New(log xlog.Logger, opener FileOpener, resolver *constpool.Resolver, clock chunk.Clock) *Controller {
	return &Controller{log: log, opener: opener, resolver: resolver, clock: clock}
}

// Start opens path and begins a new recording. The liveness tracker is
// intentionally left alone across Start calls: its weak references
// remain valid only if it survives the recording it was created in, so
// a restart is not a reason to discard it.
func (c *Controller) Start(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active.Load() {
		return ErrAlreadyActive
	}

	f, err := c.opener.Open(cfg.Path)
	if err != nil {
		return err
	}

	writer, err := chunk.New(f, c.clock, cfg.RotationPolicy, c.resolver, cfg.Preamble)
	if err != nil {
		f.Close()
		return err
	}

	laneCount := cfg.LaneCount
	if laneCount < 1 {
		laneCount = 1
	}
	bufSize := cfg.LaneBufferSize

	c.file = f
	c.lanes = lanes.New(laneCount, bufSize)
	c.writer = writer
	c.threadFilter = threadfilter.New()
	if c.liveness == nil {
		c.liveness = liveness.New(cfg.LivenessConfig)
	}
	c.cpuMonitor = cpuload.NewMonitor()

	c.active.Store(true)
	return nil
}

// Stop ends the recording: finishes the current chunk and closes the
// output. It waits for in-flight samplers to release their shared
// acquisitions by taking the exclusive lock, which Go's RWMutex.Lock
// already blocks on until every outstanding RLock is released.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active.Load() {
		return ErrInactive
	}

	if err := c.drainLanesLocked(); err != nil {
		return err
	}
	c.flushLivenessLocked()
	if err := c.writer.Close(); err != nil {
		return err
	}

	c.active.Store(false)
	err := c.file.Close()
	c.file = nil
	return err
}

// Flush forces a drain of all per-lane buffers without rotating, then
// runs the liveness tracker's flush pass so any still-live tracked
// allocation is emitted as a HeapLiveObject record before the caller
// can read back what was just written.
func (c *Controller) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active.Load() {
		return ErrInactive
	}
	if err := c.drainLanesLocked(); err != nil {
		return err
	}
	c.flushLivenessLocked()
	return nil
}

// flushLivenessLocked runs the liveness tracker's cleanup-and-promote
// pass and appends one HeapLiveObject record per surviving entry. Each
// entry's frames are re-interned into whichever chunk is active now,
// since the chunk active when the allocation was first tracked may
// have already rotated away. Called with the exclusive lock held.
func (c *Controller) flushLivenessLocked() {
	if c.liveness == nil || !c.liveness.Enabled() {
		return
	}
	for _, r := range c.liveness.Flush() {
		traceID := c.writer.InternTrace(r.Frames)
		lane := c.lanes.Lane(c.lanes.Select(r.TID))
		if err := chunk.EncodeHeapLiveObject(lane, chunk.HeapLiveObjectEvent{
			Ticks:     c.clock.Ticks(),
			TID:       r.TID,
			TraceID:   traceID,
			ClassID:   r.ClassID,
			AllocSize: r.AllocSize,
			Age:       r.Age,
		}); err != nil {
			c.droppedEvents.Add(1)
		}
	}
}

// Dump rotates the current chunk. With an empty path or a path equal to
// the active recording's path, this is a rotation only. With a
// different path, the active chunk's byte range is copied to the new
// target and the recording restarts into a fresh file.
func (c *Controller) Dump(path string, currentPath string, opener FileOpener) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active.Load() {
		return ErrInactive
	}

	if err := c.drainLanesLocked(); err != nil {
		return err
	}

	if path == "" || path == currentPath {
		return c.writer.Rotate()
	}

	return c.dumpForeignLocked(path, opener)
}

func (c *Controller) dumpForeignLocked(path string, opener FileOpener) error {
	start := c.writer.ChunkStartOffset()
	size := c.writer.BytesWritten()

	dst, err := opener.Open(path)
	if err != nil {
		return err
	}
	defer dst.Close()

	buf := make([]byte, size)
	if _, err := c.file.ReadAt(buf, start); err != nil && err != io.EOF {
		return err
	}
	if _, err := dst.WriteAt(buf, 0); err != nil {
		return err
	}

	if err := c.file.Truncate(0); err != nil {
		return err
	}
	writer, err := chunk.New(c.file, c.clock, c.writer.Policy(), c.resolver, c.writer.Preamble())
	if err != nil {
		return err
	}
	c.writer = writer
	return nil
}

func (c *Controller) drainLanesLocked() error {
	n, err := c.lanes.Flush(c.file, c.writer.ChunkStartOffset()+c.writer.BytesWritten())
	c.writer.AccountBytes(n)
	return err
}

// TimerTick is called periodically by the embedder's timer thread; it
// returns whether the controller chose to rotate.
func (c *Controller) TimerTick(wallNow time.Time) bool {
	if !c.mu.TryLock() {
		return false
	}
	defer c.mu.Unlock()

	if !c.active.Load() {
		return false
	}
	if !c.writer.ShouldRotate(wallNow) {
		return false
	}
	if err := c.drainLanesLocked(); err != nil {
		c.log.Warn(context.Background(), "timer-triggered drain failed before rotation", zap.Error(err))
		return false
	}
	if err := c.writer.Rotate(); err != nil {
		return false
	}
	return true
}

// SampleCPULoad reads the current process/machine CPU load and appends a
// CpuLoad record to lane 0. The first call only seeds the monitor's
// baseline, so the record it appends carries all-zero loads.
func (c *Controller) SampleCPULoad(now time.Time) {
	if !c.mu.TryRLock() {
		return
	}
	defer c.mu.RUnlock()

	if !c.active.Load() || c.cpuMonitor == nil {
		return
	}

	sample, ok := c.cpuMonitor.Sample(now)
	if !ok {
		return
	}

	lane := c.lanes.Lane(0)
	if err := chunk.EncodeCpuLoad(lane, chunk.CpuLoadEvent{
		Ticks:        c.clock.Ticks(),
		ProcUser:     sample.ProcUser,
		ProcSystem:   sample.ProcSystem,
		MachineTotal: sample.MachineTotal,
	}); err != nil {
		c.droppedEvents.Add(1)
	}
}

// EventPayload carries the union of fields any record_event subtype
// needs; fields irrelevant to a given eventType are ignored. This
// mirrors the collaborator-facing record_event(lane, tid,
// call_trace_id, event_type, event_payload) signature, with lane
// selection left to the controller (via tid) rather than the caller.
type EventPayload struct {
	ThreadState uint8
	ClassID     uint32
	AllocSize   uint64
	TLABSize    uint64
	DurationNS  uint64
	TimeoutNS   uint64
}

// RecordEvent is the hot sampling-path entry point. It never blocks and
// never allocates on the signal-handler path: on lock contention the
// event is silently dropped and counted; on an inactive recorder or a
// thread the filter does not accept, it is dropped without being counted.
func (c *Controller) RecordEvent(tid int32, traceID uint32, eventType events.Type, payload EventPayload) {
	if !c.mu.TryRLock() {
		c.droppedEvents.Add(1)
		return
	}
	defer c.mu.RUnlock()

	if !c.active.Load() || !c.threadFilter.Accepts(tid) {
		return
	}

	ticks := c.clock.Ticks()
	lane := c.lanes.Lane(c.lanes.Select(tid))

	var err error
	switch eventType {
	case events.Execution:
		err = chunk.EncodeExecution(lane, chunk.ExecutionEvent{
			Ticks:       ticks,
			TID:         tid,
			TraceID:     traceID,
			ThreadState: payload.ThreadState,
		})
	case events.AllocInNewTLAB, events.AllocOutsideTLAB:
		err = chunk.EncodeAlloc(lane, chunk.AllocEvent{
			Ticks:       ticks,
			TID:         tid,
			TraceID:     traceID,
			ClassID:     payload.ClassID,
			AllocSize:   payload.AllocSize,
			TLABSize:    payload.TLABSize,
			OutsideTLAB: eventType == events.AllocOutsideTLAB,
		})
	case events.MonitorEnter:
		err = chunk.EncodeMonitorEnter(lane, chunk.MonitorEvent{
			Ticks:      ticks,
			TID:        tid,
			TraceID:    traceID,
			ClassID:    payload.ClassID,
			DurationNS: payload.DurationNS,
		})
	case events.ThreadPark:
		err = chunk.EncodeThreadPark(lane, chunk.ThreadParkEvent{
			Ticks:     ticks,
			TID:       tid,
			TraceID:   traceID,
			ClassID:   payload.ClassID,
			TimeoutNS: payload.TimeoutNS,
		})
	case events.Liveness:
		c.recordLivenessLocked(tid, traceID, payload)
	case events.Method:
		// Method carries no record of its own: resolving and marking a
		// frame already happens as a side effect of interning the trace
		// behind traceID (InternTrace -> methodmap.Map.Resolve), so
		// there's nothing left to encode here.
	default:
		c.droppedEvents.Add(1)
		return
	}
	if err != nil {
		c.droppedEvents.Add(1)
	}
}

// recordLivenessLocked tracks traceID's allocation for later promotion
// by the liveness tracker's flush pass. The frames behind traceID must
// already be interned in the current chunk (via InternTrace) for this
// to find them; a miss — the trace rotated out before this call landed
// — drops the sample the same way contention does.
func (c *Controller) recordLivenessLocked(tid int32, traceID uint32, payload EventPayload) {
	if c.liveness == nil || !c.liveness.Enabled() {
		return
	}
	frames, ok := c.writer.LookupTrace(traceID)
	if !ok {
		c.droppedEvents.Add(1)
		return
	}
	obj := &liveness.TrackedObject{ClassID: payload.ClassID, AllocSize: payload.AllocSize}
	if !c.liveness.Track(tid, events.Liveness, obj, frames, c.clock.Ticks()) {
		c.droppedEvents.Add(1)
	}
}

// RecordTraceRoot marks traceID as a root of interest for tid (e.g. a
// queue-submission site), independent of a sample.
func (c *Controller) RecordTraceRoot(tid int32, traceID uint32, rootKind uint8) {
	if !c.mu.TryRLock() {
		c.droppedEvents.Add(1)
		return
	}
	defer c.mu.RUnlock()

	if !c.active.Load() || !c.threadFilter.Accepts(tid) {
		return
	}

	lane := c.lanes.Lane(c.lanes.Select(tid))
	if err := chunk.EncodeTraceRoot(lane, chunk.TraceRootEvent{
		Ticks:    c.clock.Ticks(),
		TID:      tid,
		TraceID:  traceID,
		RootKind: rootKind,
	}); err != nil {
		c.droppedEvents.Add(1)
	}
}

// RecordQueueTime records how long the task behind traceID waited
// before running on tid.
func (c *Controller) RecordQueueTime(tid int32, traceID uint32, queueTimeNS uint64) {
	if !c.mu.TryRLock() {
		c.droppedEvents.Add(1)
		return
	}
	defer c.mu.RUnlock()

	if !c.active.Load() || !c.threadFilter.Accepts(tid) {
		return
	}

	lane := c.lanes.Lane(c.lanes.Select(tid))
	if err := chunk.EncodeQueueTime(lane, chunk.QueueTimeEvent{
		Ticks:       c.clock.Ticks(),
		TID:         tid,
		TraceID:     traceID,
		QueueTimeNS: queueTimeNS,
	}); err != nil {
		c.droppedEvents.Add(1)
	}
}

// RecordWallClockEpoch anchors the clock's tick counter to a wall-clock
// instant, appended to lane 0 since it has no per-thread affinity.
func (c *Controller) RecordWallClockEpoch(wallClockNanos uint64) {
	if !c.mu.TryRLock() {
		c.droppedEvents.Add(1)
		return
	}
	defer c.mu.RUnlock()

	if !c.active.Load() {
		return
	}

	lane := c.lanes.Lane(0)
	if err := chunk.EncodeWallClockEpoch(lane, chunk.WallClockEpochEvent{
		Ticks:          c.clock.Ticks(),
		WallClockNanos: wallClockNanos,
	}); err != nil {
		c.droppedEvents.Add(1)
	}
}

// InternTrace deduplicates a call trace within the current chunk and
// returns its dense id, for a collaborator that must intern a trace
// before it can reference it from RecordEvent, RecordTraceRoot, or
// RecordQueueTime.
func (c *Controller) InternTrace(frames events.CallTrace) (uint32, bool) {
	if !c.mu.TryRLock() {
		c.droppedEvents.Add(1)
		return 0, false
	}
	defer c.mu.RUnlock()

	if !c.active.Load() {
		return 0, false
	}
	return c.writer.InternTrace(frames), true
}

// NotifyGC is the GC-notification hook a collaborator calls after a
// garbage collection completes: it advances the liveness tracker's
// epoch so the next Flush/Cleanup pass reconciles tracked allocations
// against it, and logs the reported heap usage if the runtime or the
// collaborator's heap-usage reporter could supply one.
func (c *Controller) NotifyGC() {
	if !c.mu.TryRLock() {
		return
	}
	defer c.mu.RUnlock()

	if !c.active.Load() || c.liveness == nil {
		return
	}
	if used, ok := c.liveness.NotifyGC(); ok {
		c.log.Debug(context.Background(), "gc notification", zap.Uint64("heap_used_bytes", used))
	}
}

// RecordLog appends a log line to lane 0 (log lines have no natural
// lane affinity), dropping it the same way any sample-plane
// event is dropped on contention.
func (c *Controller) RecordLog(level events.LogLevel, message string) {
	if !c.mu.TryRLock() {
		c.droppedEvents.Add(1)
		return
	}
	defer c.mu.RUnlock()

	if !c.active.Load() {
		return
	}

	lane := c.lanes.Lane(0)
	if err := chunk.EncodeLog(lane, chunk.LogEvent{
		Ticks:   c.clock.Ticks(),
		Level:   uint8(level),
		Message: message,
	}); err != nil {
		c.droppedEvents.Add(1)
	}
}

// DroppedEvents returns the count of events dropped due to lock
// contention or buffer exhaustion, exposed for metrics.
func (c *Controller) DroppedEvents() uint64 {
	return c.droppedEvents.Load()
}

// ThreadFilter exposes the accepted-thread-id set for configuration.
func (c *Controller) ThreadFilter() *threadfilter.Set {
	return c.threadFilter
}

// Liveness exposes the liveness tracker for sampling collaborators.
func (c *Controller) Liveness() *liveness.Tracker {
	return c.liveness
}
