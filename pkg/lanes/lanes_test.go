package lanes

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	require.Equal(t, 1, New(1, 64).Count())
	require.Equal(t, 4, New(3, 64).Count())
	require.Equal(t, 8, New(8, 64).Count())
	require.Equal(t, 16, New(9, 64).Count())
}

func TestLaneWrapsOutOfRangeIndex(t *testing.T) {
	l := New(4, 64)
	require.Same(t, l.Lane(0), l.Lane(4))
	require.Same(t, l.Lane(1), l.Lane(5))
}

func TestSelectIsWithinRange(t *testing.T) {
	l := New(8, 64)
	for _, tid := range []int32{0, 1, 1000, -5, 1 << 20} {
		idx := l.Select(tid)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, l.Count())
	}
}

type memWriter struct {
	mu   sync.Mutex
	data []byte
}

func (w *memWriter) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	need := int(off) + len(p)
	if need > len(w.data) {
		grown := make([]byte, need)
		copy(grown, w.data)
		w.data = grown
	}
	copy(w.data[off:], p)
	return len(p), nil
}

func TestFlushDrainsNonEmptyLanesAndResets(t *testing.T) {
	l := New(2, 64)
	require.NoError(t, l.Lane(0).Put8(0xAA))
	require.NoError(t, l.Lane(0).Put8(0xBB))

	w := &memWriter{}
	n, err := l.Flush(w, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, []byte{0xAA, 0xBB}, w.data)
	require.Equal(t, 0, l.Lane(0).Len())
}

func TestFlushSkipsEmptyLanes(t *testing.T) {
	l := New(2, 64)
	require.NoError(t, l.Lane(1).Put8(0x01))

	w := &memWriter{}
	n, err := l.Flush(w, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, byte(0x01), w.data[10])
}
