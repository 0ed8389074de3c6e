// Package weakref adapts the standard library's weak package (Go 1.24+)
// into the opaque weak-handle abstraction the liveness tracker needs:
// take a weak reference to a live object, later try to promote it back
// to a strong reference, and be notified when the GC has cleared it.
//
// The handle type exposes promote() and release() so a caller never
// touches a weak.Pointer directly. The equivalent in a JNI-based runtime
// would be a weak global reference; in Go, weak.Pointer plus
// runtime.AddCleanup is the closest native primitive, not a wrapped
// third-party library — no package wraps GC weak references, because Go
// didn't expose one as a language primitive until this package existed.
package weakref

import (
	"runtime"
	"weak"
)

// Handle wraps a weak pointer to a T, plus a release function that
// cancels the object's GC cleanup callback if the handle is dropped
// before the object dies.
type Handle[T any] struct {
	ptr     weak.Pointer[T]
	release func()
}

// Track takes a weak reference to obj. onCleared runs (on some future
// GC) once obj becomes unreachable. The liveness tracker passes a no-op
// here and instead checks every slot with Promote during its cleanup
// pass.
func Track[T any](obj *T, onCleared func()) *Handle[T] {
	cleanup := runtime.AddCleanup(obj, func(cb func()) { cb() }, onCleared)
	return &Handle[T]{
		ptr:     weak.Make(obj),
		release: cleanup.Stop,
	}
}

// Promote attempts to recover a strong reference to the tracked object.
// It returns ok=false once the object has been collected.
func (h *Handle[T]) Promote() (*T, bool) {
	v := h.ptr.Value()
	return v, v != nil
}

// Release cancels the pending cleanup callback without waiting for GC.
// Safe to call more than once.
func (h *Handle[T]) Release() {
	if h.release != nil {
		h.release()
		h.release = nil
	}
}
