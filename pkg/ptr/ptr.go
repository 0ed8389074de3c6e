// Package ptr provides small helpers for building pointers to scalar
// values, mainly for the "unset means default" option pattern used by
// pkg/config.
package ptr

// T returns a pointer to a copy of v.
func T[V any](v V) *V {
	return &v
}

// Bool is a convenience alias for T[bool].
func Bool(v bool) *bool {
	return &v
}

// Int is a convenience alias for T[int].
func Int(v int) *int {
	return &v
}

// Uint64 is a convenience alias for T[uint64].
func Uint64(v uint64) *uint64 {
	return &v
}

// String is a convenience alias for T[string].
func String(v string) *string {
	return &v
}
