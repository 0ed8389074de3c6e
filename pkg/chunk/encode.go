package chunk

import (
	"math"

	"github.com/flightcore/recorder/pkg/wire"
)

// Event type tags, one per record kind the collaborator-facing API can
// emit.
const (
	EventExecution        = 0
	EventMethod            = 1
	EventAllocInNewTLAB    = 2
	EventAllocOutsideTLAB  = 3
	EventLiveness          = 4
	EventMonitorEnter      = 5
	EventThreadPark        = 6
	EventTraceRoot         = 7
	EventQueueTime         = 8
	EventWallClockEpoch    = 9
	EventLog               = 10
	EventCpuLoad           = 11
	EventHeapLiveObject    = 12
)

// maxRecordSize is the ceiling every encoder below must respect: records
// carry a single-byte back-patched size, so they are always <= 255 bytes
// by construction.
const maxRecordSize = 255

// beginRecord writes the single-byte size placeholder and the varint
// type tag shared by every encoder, returning the size-byte offset for
// endRecord to patch.
func beginRecord(buf *wire.Buffer, eventType int, ticks uint64) (int, error) {
	sizeOffset, err := buf.Skip(1)
	if err != nil {
		return 0, err
	}
	if err := buf.PutVar32(uint32(eventType)); err != nil {
		return 0, err
	}
	if err := buf.PutVar64(ticks); err != nil {
		return 0, err
	}
	return sizeOffset, nil
}

func endRecord(buf *wire.Buffer, sizeOffset int) error {
	size := buf.Len() - sizeOffset
	if size > maxRecordSize {
		return errRecordTooLarge
	}
	buf.Put8At(sizeOffset, byte(size))
	return nil
}

var errRecordTooLarge = &recordTooLargeError{}

type recordTooLargeError struct{}

func (*recordTooLargeError) Error() string {
	return "chunk: event record exceeds the single-byte patchable size limit"
}

// ExecutionEvent encodes one execution sample.
type ExecutionEvent struct {
	Ticks       uint64
	TID         int32
	TraceID     uint32
	ThreadState uint8
}

// EncodeExecution appends an Execution record to buf.
func EncodeExecution(buf *wire.Buffer, e ExecutionEvent) error {
	off, err := beginRecord(buf, EventExecution, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(e.TID)); err != nil {
		return err
	}
	if err := buf.PutVar32(e.TraceID); err != nil {
		return err
	}
	if err := buf.Put8(e.ThreadState); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// AllocEvent encodes an AllocInNewTLAB / AllocOutsideTLAB sample.
type AllocEvent struct {
	Ticks      uint64
	TID        int32
	TraceID    uint32
	ClassID    uint32
	AllocSize  uint64
	TLABSize   uint64
	OutsideTLAB bool
}

// EncodeAlloc appends an allocation record of the appropriate subtype to buf.
func EncodeAlloc(buf *wire.Buffer, e AllocEvent) error {
	eventType := EventAllocInNewTLAB
	if e.OutsideTLAB {
		eventType = EventAllocOutsideTLAB
	}
	off, err := beginRecord(buf, eventType, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(e.TID)); err != nil {
		return err
	}
	if err := buf.PutVar32(e.TraceID); err != nil {
		return err
	}
	if err := buf.PutVar32(e.ClassID); err != nil {
		return err
	}
	if err := buf.PutVar64(e.AllocSize); err != nil {
		return err
	}
	if !e.OutsideTLAB {
		if err := buf.PutVar64(e.TLABSize); err != nil {
			return err
		}
	}
	return endRecord(buf, off)
}

// MonitorEvent encodes a MonitorEnter contention sample.
type MonitorEvent struct {
	Ticks       uint64
	TID         int32
	TraceID     uint32
	ClassID     uint32
	DurationNS  uint64
}

// EncodeMonitorEnter appends a MonitorEnter record to buf.
func EncodeMonitorEnter(buf *wire.Buffer, e MonitorEvent) error {
	off, err := beginRecord(buf, EventMonitorEnter, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(e.TID)); err != nil {
		return err
	}
	if err := buf.PutVar32(e.TraceID); err != nil {
		return err
	}
	if err := buf.PutVar32(e.ClassID); err != nil {
		return err
	}
	if err := buf.PutVar64(e.DurationNS); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// ThreadParkEvent encodes a thread-park sample.
type ThreadParkEvent struct {
	Ticks      uint64
	TID        int32
	TraceID    uint32
	ClassID    uint32
	TimeoutNS  uint64
}

// EncodeThreadPark appends a ThreadPark record to buf.
func EncodeThreadPark(buf *wire.Buffer, e ThreadParkEvent) error {
	off, err := beginRecord(buf, EventThreadPark, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(e.TID)); err != nil {
		return err
	}
	if err := buf.PutVar32(e.TraceID); err != nil {
		return err
	}
	if err := buf.PutVar32(e.ClassID); err != nil {
		return err
	}
	if err := buf.PutVar64(e.TimeoutNS); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// TraceRootEvent marks a call trace as a root of interest (e.g. a
// queue-submission site) independent of a sample.
type TraceRootEvent struct {
	Ticks   uint64
	TID     int32
	TraceID uint32
	RootKind uint8
}

// EncodeTraceRoot appends a TraceRoot record to buf.
func EncodeTraceRoot(buf *wire.Buffer, e TraceRootEvent) error {
	off, err := beginRecord(buf, EventTraceRoot, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(e.TID)); err != nil {
		return err
	}
	if err := buf.PutVar32(e.TraceID); err != nil {
		return err
	}
	if err := buf.Put8(e.RootKind); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// QueueTimeEvent records how long a task waited before running.
type QueueTimeEvent struct {
	Ticks       uint64
	TID         int32
	TraceID     uint32
	QueueTimeNS uint64
}

// EncodeQueueTime appends a QueueTime record to buf.
func EncodeQueueTime(buf *wire.Buffer, e QueueTimeEvent) error {
	off, err := beginRecord(buf, EventQueueTime, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(e.TID)); err != nil {
		return err
	}
	if err := buf.PutVar32(e.TraceID); err != nil {
		return err
	}
	if err := buf.PutVar64(e.QueueTimeNS); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// WallClockEpochEvent anchors ticks to wall-clock time for a lane.
type WallClockEpochEvent struct {
	Ticks           uint64
	WallClockNanos  uint64
}

// EncodeWallClockEpoch appends a WallClockEpoch record to buf.
func EncodeWallClockEpoch(buf *wire.Buffer, e WallClockEpochEvent) error {
	off, err := beginRecord(buf, EventWallClockEpoch, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar64(e.WallClockNanos); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// LogEvent records one collaborator-emitted log line.
type LogEvent struct {
	Ticks   uint64
	Level   uint8
	Message string
}

// EncodeLog appends a Log record to buf.
func EncodeLog(buf *wire.Buffer, e LogEvent) error {
	off, err := beginRecord(buf, EventLog, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.Put8(e.Level); err != nil {
		return err
	}
	if err := buf.PutUTF8(e.Message); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// CpuLoadEvent records one CPU-load sample.
type CpuLoadEvent struct {
	Ticks        uint64
	ProcUser     float32
	ProcSystem   float32
	MachineTotal float32
}

// EncodeCpuLoad appends a CpuLoad record to buf.
func EncodeCpuLoad(buf *wire.Buffer, e CpuLoadEvent) error {
	off, err := beginRecord(buf, EventCpuLoad, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.Put32(math.Float32bits(e.ProcUser)); err != nil {
		return err
	}
	if err := buf.Put32(math.Float32bits(e.ProcSystem)); err != nil {
		return err
	}
	if err := buf.Put32(math.Float32bits(e.MachineTotal)); err != nil {
		return err
	}
	return endRecord(buf, off)
}

// HeapLiveObjectEvent records a still-live tracked allocation at flush time.
type HeapLiveObjectEvent struct {
	Ticks      uint64
	TID        int32
	TraceID    uint32
	ClassID    uint32
	AllocSize  uint64
	Age        uint32
}

// EncodeHeapLiveObject appends a HeapLiveObject record to buf.
func EncodeHeapLiveObject(buf *wire.Buffer, e HeapLiveObjectEvent) error {
	off, err := beginRecord(buf, EventHeapLiveObject, e.Ticks)
	if err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(e.TID)); err != nil {
		return err
	}
	if err := buf.PutVar32(e.TraceID); err != nil {
		return err
	}
	if err := buf.PutVar32(e.ClassID); err != nil {
		return err
	}
	if err := buf.PutVar64(e.AllocSize); err != nil {
		return err
	}
	if err := buf.PutVar32(e.Age); err != nil {
		return err
	}
	return endRecord(buf, off)
}
