package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightcore/recorder/pkg/events"
)

func trace(methodIDs ...uint64) events.CallTrace {
	frames := make([]events.Frame, len(methodIDs))
	for i, m := range methodIDs {
		frames[i] = events.Frame{ID: events.FrameID{MethodID: m, BCI: int32(i)}}
	}
	return events.CallTrace{Frames: frames}
}

func TestStackTraceTableInternDedupesIdenticalTraces(t *testing.T) {
	st := newStackTraceTable()

	id1 := st.Intern(trace(1, 2, 3))
	id2 := st.Intern(trace(1, 2, 3))
	require.Equal(t, id1, id2)
}

func TestStackTraceTableDistinguishesByFrameSequenceNotLength(t *testing.T) {
	st := newStackTraceTable()

	idA := st.Intern(trace(1, 2))
	idB := st.Intern(trace(2, 1))
	require.NotEqual(t, idA, idB)
}

func TestStackTraceTableTruncatedAndEntryFlagsAffectKey(t *testing.T) {
	st := newStackTraceTable()

	plain := trace(1)
	truncated := events.CallTrace{Frames: plain.Frames, Truncated: true}

	idPlain := st.Intern(plain)
	idTruncated := st.Intern(truncated)
	require.NotEqual(t, idPlain, idTruncated)

	entry := events.CallTrace{Frames: plain.Frames, IsEntry: true}
	idEntry := st.Intern(entry)
	require.NotEqual(t, idPlain, idEntry)
	require.NotEqual(t, idTruncated, idEntry)
}

func TestStackTraceTableLookupReturnsInternedFrames(t *testing.T) {
	st := newStackTraceTable()
	want := trace(5, 6, 7)
	id := st.Intern(want)

	got, ok := st.Lookup(id)
	require.True(t, ok)
	require.Equal(t, want.Frames, got.Frames)

	_, ok = st.Lookup(id + 1)
	require.False(t, ok)
}

func TestStackTraceTableResetMarksThenMarkedOnlyShowsReinterned(t *testing.T) {
	st := newStackTraceTable()
	st.Intern(trace(1))
	st.Intern(trace(2))
	st.ResetMarks()

	require.Empty(t, st.Marked())

	st.Intern(trace(1))
	marked := st.Marked()
	require.Len(t, marked, 1)
}
