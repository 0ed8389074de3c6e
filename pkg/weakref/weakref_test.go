package weakref

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPromoteSucceedsWhileReachable(t *testing.T) {
	obj := new(int)
	*obj = 7
	h := Track(obj, func() {})

	v, ok := h.Promote()
	require.True(t, ok)
	require.Equal(t, 7, *v)
	runtime.KeepAlive(obj)
}

func TestPromoteFailsAfterCollection(t *testing.T) {
	cleared := make(chan struct{}, 1)
	var h *Handle[int]
	func() {
		obj := new(int)
		*obj = 9
		h = Track(obj, func() { cleared <- struct{}{} })
	}()

	for i := 0; i < 20; i++ {
		runtime.GC()
		select {
		case <-cleared:
			i = 20
		default:
			time.Sleep(time.Millisecond)
		}
	}

	_, ok := h.Promote()
	require.False(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	obj := new(int)
	h := Track(obj, func() {})
	h.Release()
	h.Release()
}
