// Package config defines the recognized configuration surface and its
// defaulting: optional fields are pointers, zero-value detection fills
// them in via FillDefault, and the whole thing round-trips through YAML.
package config

import (
	"time"

	"github.com/flightcore/recorder/pkg/ptr"
)

// RingBufferKind selects the delivery mechanism for sampled events.
type RingBufferKind string

const (
	RingKernel RingBufferKind = "kernel"
	RingUser   RingBufferKind = "user"
)

// CallStackKind selects how native call stacks are captured.
type CallStackKind string

const (
	CallStackNone  CallStackKind = "no"
	CallStackFP    CallStackKind = "fp"
	CallStackDWARF CallStackKind = "dwarf"
	CallStackLBR   CallStackKind = "lbr"
)

// SamplingConfig holds the per-event-class sampling intervals; a
// negative value disables that event class entirely.
type SamplingConfig struct {
	CPUIntervalMicros   *int64 `yaml:"cpu,omitempty"`
	WallIntervalMicros  *int64 `yaml:"wall,omitempty"`
	AllocIntervalBytes  *int64 `yaml:"alloc,omitempty"`
	LockIntervalMicros  *int64 `yaml:"lock,omitempty"`
	MemleakIntervalBytes *int64 `yaml:"memleak,omitempty"`
	MemleakCapBytes     *int64 `yaml:"memleak_cap,omitempty"`
}

// Enabled reports whether v describes an enabled sampling interval: nil
// means "use the default", a negative value means "explicitly
// disabled", and zero/positive means enabled at that interval.
func Enabled(v *int64) bool {
	return v == nil || *v >= 0
}

// PreambleConfig toggles the one-time metadata sections a recording
// emits at startup.
type PreambleConfig struct {
	NoSystemInfo  bool `yaml:"no_system_info,omitempty"`
	NoSystemProps bool `yaml:"no_system_props,omitempty"`
	NoNativeLibs  bool `yaml:"no_native_libs,omitempty"`
	NoCPULoad     bool `yaml:"no_cpu_load,omitempty"`
}

// SelectorConfig narrows which threads/classes are recorded.
type SelectorConfig struct {
	Filter  []string `yaml:"filter,omitempty"`
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// Config is the full recognized configuration surface.
type Config struct {
	// File is the target recording path.
	File string `yaml:"file"`

	// ChunkSizeBytes and ChunkTimeMicros bound how large/long a chunk
	// may grow before rotation.
	ChunkSizeBytes  *int64 `yaml:"chunksize,omitempty"`
	ChunkTimeMicros *int64 `yaml:"chunktime,omitempty"`

	Sampling SamplingConfig `yaml:"sampling,omitempty"`

	Ring         RingBufferKind `yaml:"ring,omitempty"`
	CallStack    CallStackKind  `yaml:"cstack,omitempty"`
	JStackDepth  *int           `yaml:"jstackdepth,omitempty"`

	Selector SelectorConfig `yaml:"selector,omitempty"`
	Preamble PreambleConfig `yaml:"preamble,omitempty"`
}

// RotationPolicy derives a chunk.RotationPolicy-shaped pair of bounds
// from the resolved config, in the units the chunk writer wants.
func (c *Config) RotationPolicy() (maxBytes int64, maxAge time.Duration) {
	return *c.ChunkSizeBytes, time.Duration(*c.ChunkTimeMicros) * time.Microsecond
}

func defaultValue[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func defaultPointer[T any](field **T, value T) {
	if *field == nil {
		*field = ptr.T(value)
	}
}

func defaultSlice[T any](field *[]T, value ...T) {
	if *field == nil || len(*field) == 0 {
		*field = value
	}
}

// FillDefault fills in every unset field with its documented default.
// It only touches zero-valued fields, so calling it twice is a no-op.
func (c *Config) FillDefault() {
	defaultValue(&c.File, "recording.flr")
	defaultPointer(&c.ChunkSizeBytes, 64<<20)
	defaultPointer(&c.ChunkTimeMicros, int64(10*time.Second/time.Microsecond))

	defaultPointer(&c.Sampling.CPUIntervalMicros, int64(10_000))
	defaultPointer(&c.Sampling.WallIntervalMicros, int64(-1))
	defaultPointer(&c.Sampling.AllocIntervalBytes, int64(512*1024))
	defaultPointer(&c.Sampling.LockIntervalMicros, int64(-1))
	defaultPointer(&c.Sampling.MemleakIntervalBytes, int64(-1))
	defaultPointer(&c.Sampling.MemleakCapBytes, int64(128*1024*1024))

	defaultValue(&c.Ring, RingKernel)
	defaultValue(&c.CallStack, CallStackFP)
	defaultPointer(&c.JStackDepth, 2048)

	defaultSlice(&c.Selector.Include)
	defaultSlice(&c.Selector.Exclude)
	defaultSlice(&c.Selector.Filter)
}

// AllocSamplingIntervalBytes reports the resolved interval the liveness
// tracker should size itself against, treating "disabled" as the
// largest possible interval rather than zero (which would otherwise
// divide-by-zero the tracker's capacity derivation).
func (c *Config) AllocSamplingIntervalBytes() uint64 {
	v := *c.Sampling.AllocIntervalBytes
	if v <= 0 {
		return 1 << 40
	}
	return uint64(v)
}
