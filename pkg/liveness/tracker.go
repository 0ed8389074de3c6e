// Package liveness implements the weak-reference table that correlates
// a sampled allocation with its still-live status at flush time:
// reserve a slot by CAS, take a weak reference, and reconcile against
// garbage-collection notifications using an epoch counter.
//
// The table's operations mirror a C++ liveness tracker's shape:
// initialize-table's heap/interval sizing, track()'s CAS-slot-reservation
// plus resize-and-retry-once, cleanup-table()'s epoch-gated compaction,
// and flush-table()'s promote-and-emit pass. A JNI-style weak global
// reference becomes pkg/weakref.Handle here; the exclusive/shared upgrade
// discipline becomes a plain sync.RWMutex, since Go's RWMutex already
// gives cheap concurrent RLock for inserts and a blocking Lock for
// resize/cleanup without a hand-rolled spinlock.
package liveness

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/weakref"
)

// MaxTrackingTableSize is the hard ceiling on table capacity, regardless
// of the heap/interval-derived sizing.
const MaxTrackingTableSize = 1 << 20

// TrackedObject is the opaque payload the recording core keeps per
// tracked allocation: enough to emit a HeapLiveObject record, without
// the liveness tracker needing to know anything about the sampling
// collaborator's real object representation beyond a weak pointer to it.
type TrackedObject struct {
	ClassID   uint32
	AllocSize uint64
}

// Config configures a Tracker's capacity derivation.
type Config struct {
	MaxHeapBytes            uint64
	AllocSamplingInterval   uint64
	// HeapInfoAvailable reports whether the runtime disclosed a max
	// heap size; when false the tracker is disabled.
	HeapInfoAvailable bool
}

type entry struct {
	tid            int32
	event          events.Type
	weak           *weakref.Handle[TrackedObject]
	age            uint32
	firstSeenTicks uint64
	frames         events.CallTrace
}

// Tracker is the weak-reference liveness table.
type Tracker struct {
	enabled bool

	mu         sync.RWMutex
	entries    []*entry
	tableSize  atomic.Int32
	capacity   int32

	resizeSem *semaphore.Weighted

	gcEpoch     atomic.Uint64
	lastGCEpoch atomic.Uint64

	heapUsageFn func() (used uint64, ok bool)
}

// New constructs a Tracker per cfg. If the runtime didn't disclose a
// max heap size, the returned Tracker is disabled: Track always
// reports a clean "not tracked" status without error.
func New(cfg Config) *Tracker {
	t := &Tracker{resizeSem: semaphore.NewWeighted(1)}
	if !cfg.HeapInfoAvailable || cfg.AllocSamplingInterval == 0 {
		return t
	}

	capacity := cfg.MaxHeapBytes / cfg.AllocSamplingInterval
	if capacity > MaxTrackingTableSize {
		capacity = MaxTrackingTableSize
	}
	if capacity == 0 {
		return t
	}

	t.enabled = true
	t.capacity = int32(capacity)
	t.entries = make([]*entry, capacity)
	return t
}

// Enabled reports whether the tracker is accepting insertions.
func (t *Tracker) Enabled() bool { return t.enabled }

// SetHeapUsageReporter wires a collaborator callback used by NotifyGC to
// snapshot used heap bytes when the runtime can't report "used since
// last GC" on its own.
func (t *Tracker) SetHeapUsageReporter(fn func() (used uint64, ok bool)) {
	t.heapUsageFn = fn
}

// Track attempts to insert one tracked allocation: CAS-reserve a slot,
// retry once after a cleanup pass and a bounded resize on overflow,
// then drop silently.
func (t *Tracker) Track(tid int32, event events.Type, obj *TrackedObject, frames events.CallTrace, nowTicks uint64) bool {
	if !t.enabled {
		return false
	}

	handle := weakref.Track(obj, func() {})

	t.mu.RLock()
	idx, ok := t.reserveSlot()
	if ok {
		t.entries[idx] = &entry{
			tid: tid, event: event, weak: handle, frames: frames, firstSeenTicks: nowTicks,
		}
		t.mu.RUnlock()
		return true
	}
	t.mu.RUnlock()

	// Reservation failed: release shared, attempt one cleanup pass,
	// optionally grow, and retry exactly once.
	t.Cleanup()
	t.maybeGrow()

	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok = t.reserveSlot()
	if !ok {
		handle.Release()
		return false
	}
	t.entries[idx] = &entry{
		tid: tid, event: event, weak: handle, frames: frames, firstSeenTicks: nowTicks,
	}
	return true
}

// reserveSlot loops: read size, bail if it has reached capacity,
// otherwise CAS size from idx to idx+1 and claim idx on success. It is
// called with the shared lock held so a concurrent resize cannot
// observe a torn capacity/backing-array pair.
func (t *Tracker) reserveSlot() (int32, bool) {
	for {
		idx := t.tableSize.Load()
		if idx >= t.capacity {
			return 0, false
		}
		if t.tableSize.CompareAndSwap(idx, idx+1) {
			return idx, true
		}
	}
}

// maybeGrow doubles capacity under the exclusive lock, bounded by
// MaxTrackingTableSize, serialised by a weighted semaphore so only one
// caller resizes at a time while others that lost the race simply
// retry their own single attempt.
func (t *Tracker) maybeGrow() {
	if !t.resizeSem.TryAcquire(1) {
		return
	}
	defer t.resizeSem.Release(1)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.capacity >= MaxTrackingTableSize {
		return
	}
	newCap := t.capacity * 2
	if newCap > MaxTrackingTableSize {
		newCap = MaxTrackingTableSize
	}
	grown := make([]*entry, newCap)
	copy(grown, t.entries)
	t.entries = grown
	t.capacity = newCap
}

// NotifyGC is the GC-notification hook: advances the epoch counter and,
// if the runtime can't report used-since-last-GC heap bytes on its own,
// snapshots them via the configured heap usage reporter.
func (t *Tracker) NotifyGC() (usedBytes uint64, ok bool) {
	t.gcEpoch.Add(1)
	if t.heapUsageFn != nil {
		return t.heapUsageFn()
	}
	return 0, false
}

// Cleanup reconciles the table against GC epoch advances: entries whose
// weak reference cleared are released and dropped; survivors' age
// increments by the epoch delta. A CAS on lastGCEpoch serialises
// concurrent cleanup callers so only one performs the compaction pass
// per epoch advance.
func (t *Tracker) Cleanup() {
	if !t.enabled {
		return
	}

	observed := t.gcEpoch.Load()
	last := t.lastGCEpoch.Load()
	if observed <= last {
		return
	}
	if !t.lastGCEpoch.CompareAndSwap(last, observed) {
		return
	}
	delta := uint32(observed - last)

	t.mu.Lock()
	defer t.mu.Unlock()

	size := t.tableSize.Load()
	write := int32(0)
	for read := int32(0); read < size; read++ {
		e := t.entries[read]
		if _, alive := e.weak.Promote(); !alive {
			e.weak.Release()
			continue
		}
		e.age += delta
		t.entries[write] = e
		write++
	}
	for i := write; i < size; i++ {
		t.entries[i] = nil
	}
	t.tableSize.Store(write)
}

// LiveRecord is what Flush reports for one still-live tracked
// allocation, enough for the caller to encode a HeapLiveObject event.
type LiveRecord struct {
	TID       int32
	Event     events.Type
	ClassID   uint32
	AllocSize uint64
	Age       uint32
	Frames    events.CallTrace
}

// Flush runs cleanup, then promotes every surviving entry's weak
// reference and reports it for emission.
func (t *Tracker) Flush() []LiveRecord {
	if !t.enabled {
		return nil
	}
	t.Cleanup()

	t.mu.RLock()
	defer t.mu.RUnlock()

	size := t.tableSize.Load()
	out := make([]LiveRecord, 0, size)
	for i := int32(0); i < size; i++ {
		e := t.entries[i]
		obj, alive := e.weak.Promote()
		if !alive {
			continue
		}
		out = append(out, LiveRecord{
			TID: e.tid, Event: e.event, ClassID: obj.ClassID,
			AllocSize: obj.AllocSize, Age: e.age, Frames: e.frames,
		})
	}
	return out
}

// Size reports the current number of reserved slots.
func (t *Tracker) Size() int32 { return t.tableSize.Load() }

// Capacity reports the current table capacity.
func (t *Tracker) Capacity() int32 { return t.capacity }
