package liveness

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/flightcore/recorder/pkg/events"
)

func TestNewDisablesWhenHeapInfoUnavailable(t *testing.T) {
	tr := New(Config{HeapInfoAvailable: false, MaxHeapBytes: 1 << 30, AllocSamplingInterval: 1024})
	require.False(t, tr.Enabled())
	require.False(t, tr.Track(1, events.Type(0), &TrackedObject{}, events.CallTrace{}, 0))
}

func TestNewDisablesWhenIntervalIsZero(t *testing.T) {
	tr := New(Config{HeapInfoAvailable: true, MaxHeapBytes: 1 << 30, AllocSamplingInterval: 0})
	require.False(t, tr.Enabled())
}

func TestNewDerivesCapacityFromHeapAndInterval(t *testing.T) {
	tr := New(Config{HeapInfoAvailable: true, MaxHeapBytes: 1 << 20, AllocSamplingInterval: 1024})
	require.True(t, tr.Enabled())
	require.Equal(t, int32(1<<20/1024), tr.Capacity())
}

func TestNewClampsCapacityToMaxTrackingTableSize(t *testing.T) {
	tr := New(Config{HeapInfoAvailable: true, MaxHeapBytes: 1 << 40, AllocSamplingInterval: 1})
	require.Equal(t, int32(MaxTrackingTableSize), tr.Capacity())
}

func newSmallTracker(capacity uint64) *Tracker {
	return New(Config{
		HeapInfoAvailable:     true,
		MaxHeapBytes:          capacity * 10,
		AllocSamplingInterval: 10,
	})
}

func TestTrackGrowsFullTableAndRetries(t *testing.T) {
	tr := newSmallTracker(2)
	require.True(t, tr.Track(1, events.Type(0), &TrackedObject{ClassID: 1}, events.CallTrace{}, 0))
	require.True(t, tr.Track(2, events.Type(0), &TrackedObject{ClassID: 2}, events.CallTrace{}, 0))
	// Table is full (capacity 2) and nothing has cleared yet, so the
	// next insertion's retry-after-cleanup-and-grow path should grow
	// the table rather than silently drop, since capacity 2 is far below
	// MaxTrackingTableSize.
	ok := tr.Track(3, events.Type(0), &TrackedObject{ClassID: 3}, events.CallTrace{}, 0)
	require.True(t, ok)
	require.Equal(t, int32(3), tr.Size())
}

func TestTrackStopsGrowingAtMaxTrackingTableSize(t *testing.T) {
	tr := &Tracker{enabled: true, capacity: MaxTrackingTableSize}
	tr.entries = make([]*entry, MaxTrackingTableSize)
	tr.tableSize.Store(MaxTrackingTableSize)
	tr.resizeSem = semaphore.NewWeighted(1)

	ok := tr.Track(1, events.Type(0), &TrackedObject{}, events.CallTrace{}, 0)
	require.False(t, ok)
}

func TestNotifyGCAdvancesEpochAndReportsHeapUsage(t *testing.T) {
	tr := newSmallTracker(4)
	tr.SetHeapUsageReporter(func() (uint64, bool) { return 42, true })

	used, ok := tr.NotifyGC()
	require.True(t, ok)
	require.Equal(t, uint64(42), used)
}

func TestCleanupIsNoOpWithoutGCNotification(t *testing.T) {
	tr := newSmallTracker(4)
	tr.Track(1, events.Type(0), &TrackedObject{}, events.CallTrace{}, 0)
	tr.Cleanup()
	require.Equal(t, int32(1), tr.Size())
}

func TestCleanupAgesSurvivingEntriesByEpochDelta(t *testing.T) {
	tr := newSmallTracker(4)
	obj := &TrackedObject{ClassID: 9}
	tr.Track(1, events.Type(0), obj, events.CallTrace{}, 0)

	tr.NotifyGC()
	tr.NotifyGC()
	tr.Cleanup()

	records := tr.Flush()
	require.Len(t, records, 1)
	require.Equal(t, uint32(2), records[0].Age)
}

func TestFlushReportsOnlyLiveEntries(t *testing.T) {
	tr := newSmallTracker(4)
	obj := &TrackedObject{ClassID: 5, AllocSize: 128}
	tr.Track(7, events.Type(1), obj, events.CallTrace{}, 100)

	records := tr.Flush()
	require.Len(t, records, 1)
	require.Equal(t, int32(7), records[0].TID)
	require.Equal(t, uint32(5), records[0].ClassID)
	require.Equal(t, uint64(128), records[0].AllocSize)
}

func TestFlushOnDisabledTrackerReturnsNil(t *testing.T) {
	tr := New(Config{HeapInfoAvailable: false})
	require.Nil(t, tr.Flush())
}
