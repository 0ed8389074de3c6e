package recorder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flightcore/recorder/pkg/chunk"
	"github.com/flightcore/recorder/pkg/constpool"
	"github.com/flightcore/recorder/pkg/dict"
	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/liveness"
	"github.com/flightcore/recorder/pkg/methodmap"
	"github.com/flightcore/recorder/pkg/xlog"
)

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	need := int(off) + len(p)
	if need > len(f.data) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:], p)
	return len(p), nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(off) >= len(f.data) {
		return 0, errors.New("recorder_test: read past end")
	}
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = f.data[:0]
	return nil
}

type memOpener struct {
	mu    sync.Mutex
	files map[string]*memFile
}

func newMemOpener() *memOpener { return &memOpener{files: make(map[string]*memFile)} }

func (o *memOpener) Open(path string) (OutputFile, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.files[path]
	if !ok {
		f = &memFile{}
		o.files[path] = f
	}
	return f, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	tck uint64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tck
}

func (c *fakeClock) TicksPerSecond() uint64 { return 1_000_000_000 }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.tck += uint64(d)
}

type noopRuntime struct{}

func (noopRuntime) QueryMethod(uint64) (methodmap.RawMethodInfo, error) {
	return methodmap.RawMethodInfo{}, errors.New("recorder_test: unresolved")
}
func (noopRuntime) IsThreadRunSubclass(string) bool { return false }

func newTestResolver() *constpool.Resolver {
	dicts := constpool.Dictionaries{Symbols: dict.New(), Packages: dict.New(), Classes: dict.New()}
	methods := methodmap.New(methodmap.Config{
		Classes: dicts.Classes, Packages: dicts.Packages, Symbols: dicts.Symbols, Runtime: noopRuntime{},
	})
	return constpool.New(methods, dicts)
}

func newTestController() (*Controller, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	ctrl := New(xlog.NewNop(), newMemOpener(), newTestResolver(), clock)
	return ctrl, clock
}

func TestStartTwiceReturnsAlreadyActive(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 2, LaneBufferSize: 4096}))
	require.ErrorIs(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 2, LaneBufferSize: 4096}), ErrAlreadyActive)
	require.NoError(t, ctrl.Stop())
}

func TestControlPlaneCallsBeforeStartReturnInactive(t *testing.T) {
	ctrl, clock := newTestController()
	require.ErrorIs(t, ctrl.Stop(), ErrInactive)
	require.ErrorIs(t, ctrl.Flush(), ErrInactive)
	require.ErrorIs(t, ctrl.Dump("x.flr", "a.flr", newMemOpener()), ErrInactive)
	require.False(t, ctrl.TimerTick(clock.Now()))
}

func TestRecordEventDroppedWhenThreadNotInFilter(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 2, LaneBufferSize: 4096}))
	defer ctrl.Stop()

	ctrl.RecordEvent(1, 1, events.Execution, EventPayload{})
	require.EqualValues(t, 0, ctrl.DroppedEvents())

	ctrl.ThreadFilter().Add(1)
	ctrl.RecordEvent(1, 1, events.Execution, EventPayload{})
	require.NoError(t, ctrl.Flush())
}

func TestRecordEventOnInactiveControllerIsANoop(t *testing.T) {
	ctrl, _ := newTestController()
	ctrl.RecordEvent(1, 1, events.Execution, EventPayload{})
	require.EqualValues(t, 0, ctrl.DroppedEvents())
}

func TestFlushDrainsLanesWithoutError(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 2, LaneBufferSize: 4096}))
	ctrl.ThreadFilter().Add(5)
	ctrl.RecordEvent(5, 1, events.Execution, EventPayload{ThreadState: 1})
	require.NoError(t, ctrl.Flush())
	require.NoError(t, ctrl.Stop())
}

func TestRecordLogDropsWhenInactive(t *testing.T) {
	ctrl, _ := newTestController()
	ctrl.RecordLog(events.LogInfo, "hello")
	require.EqualValues(t, 0, ctrl.DroppedEvents())
}

func TestTimerTickRotatesOnlyWhenPolicyDemandsIt(t *testing.T) {
	ctrl, clock := newTestController()
	require.NoError(t, ctrl.Start(Config{
		Path:           "a.flr",
		LaneCount:      1,
		LaneBufferSize: 4096,
		RotationPolicy: chunk.RotationPolicy{MaxBytes: 1 << 30, MaxAge: time.Second},
	}))
	defer ctrl.Stop()

	require.False(t, ctrl.TimerTick(clock.Now()))
	// MaxAge is floored to 5s by chunk.RotationPolicy.Normalize.
	clock.Advance(6 * time.Second)
	require.True(t, ctrl.TimerTick(clock.Now()))
}

func TestDumpToSamePathIsRotationOnly(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 1, LaneBufferSize: 4096}))
	defer ctrl.Stop()

	require.NoError(t, ctrl.Dump("a.flr", "a.flr", nil))
}

func TestDumpToForeignPathCopiesActiveChunkAndRestarts(t *testing.T) {
	ctrl, _ := newTestController()
	opener := newMemOpener()

	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 1, LaneBufferSize: 4096}))
	defer ctrl.Stop()

	ctrl.ThreadFilter().Add(1)
	ctrl.RecordEvent(1, 1, events.Execution, EventPayload{})
	require.NoError(t, ctrl.Flush())

	require.NoError(t, ctrl.Dump("b.flr", "a.flr", opener))

	dst, err := opener.Open("b.flr")
	require.NoError(t, err)
	mf := dst.(*memFile)
	require.GreaterOrEqual(t, len(mf.data), chunk.HeaderSize)
}

func TestSampleCPULoadFirstCallSeedsBaselineWithoutDroppingEvents(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 1, LaneBufferSize: 4096}))
	defer ctrl.Stop()

	before := ctrl.DroppedEvents()
	ctrl.SampleCPULoad(time.Now())
	require.Equal(t, before, ctrl.DroppedEvents())
}

func TestLivenessSurvivesAcrossRestarts(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 1, LaneBufferSize: 4096}))
	first := ctrl.Liveness()
	require.NoError(t, ctrl.Stop())

	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 1, LaneBufferSize: 4096}))
	require.Same(t, first, ctrl.Liveness())
	require.NoError(t, ctrl.Stop())
}

func TestRecordEventDispatchesAllocMonitorAndParkPayloads(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 1, LaneBufferSize: 4096}))
	defer ctrl.Stop()
	ctrl.ThreadFilter().Add(1)

	ctrl.RecordEvent(1, 1, events.AllocInNewTLAB, EventPayload{ClassID: 7, AllocSize: 64, TLABSize: 1024})
	ctrl.RecordEvent(1, 1, events.AllocOutsideTLAB, EventPayload{ClassID: 7, AllocSize: 512})
	ctrl.RecordEvent(1, 1, events.MonitorEnter, EventPayload{ClassID: 7, DurationNS: 9000})
	ctrl.RecordEvent(1, 1, events.ThreadPark, EventPayload{ClassID: 7, TimeoutNS: 5000})
	ctrl.RecordEvent(1, 1, events.Method, EventPayload{})

	require.EqualValues(t, 0, ctrl.DroppedEvents())
	require.NoError(t, ctrl.Flush())
}

func TestRecordTraceRootQueueTimeAndWallClockEpoch(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{Path: "a.flr", LaneCount: 1, LaneBufferSize: 4096}))
	defer ctrl.Stop()
	ctrl.ThreadFilter().Add(1)

	ctrl.RecordTraceRoot(1, 1, 0)
	ctrl.RecordQueueTime(1, 1, 12345)
	ctrl.RecordWallClockEpoch(1_700_000_000_000_000_000)

	require.EqualValues(t, 0, ctrl.DroppedEvents())
	require.NoError(t, ctrl.Flush())
}

func TestInternTraceOnInactiveControllerReportsFalse(t *testing.T) {
	ctrl, _ := newTestController()
	id, ok := ctrl.InternTrace(events.CallTrace{})
	require.False(t, ok)
	require.Zero(t, id)
}

func TestFlushEmitsHeapLiveObjectForTrackedAllocation(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{
		Path:           "a.flr",
		LaneCount:      1,
		LaneBufferSize: 4096,
		LivenessConfig: liveness.Config{
			MaxHeapBytes:          1 << 20,
			AllocSamplingInterval: 1024,
			HeapInfoAvailable:     true,
		},
	}))
	defer ctrl.Stop()
	ctrl.ThreadFilter().Add(1)
	require.True(t, ctrl.Liveness().Enabled())

	traceID, ok := ctrl.InternTrace(events.CallTrace{Frames: []events.Frame{{ID: events.FrameID{MethodID: 1}}}})
	require.True(t, ok)

	ctrl.RecordEvent(1, traceID, events.Liveness, EventPayload{ClassID: 3, AllocSize: 128})
	require.EqualValues(t, 0, ctrl.DroppedEvents())

	require.NoError(t, ctrl.Flush())
}

func TestNotifyGCAdvancesLivenessEpochWithoutDroppingEvents(t *testing.T) {
	ctrl, _ := newTestController()
	require.NoError(t, ctrl.Start(Config{
		Path:           "a.flr",
		LaneCount:      1,
		LaneBufferSize: 4096,
		LivenessConfig: liveness.Config{
			MaxHeapBytes:          1 << 20,
			AllocSamplingInterval: 1024,
			HeapInfoAvailable:     true,
		},
	}))
	defer ctrl.Stop()

	ctrl.NotifyGC()
	require.EqualValues(t, 0, ctrl.DroppedEvents())
}
