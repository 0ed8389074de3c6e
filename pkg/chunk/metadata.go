package chunk

import (
	"os"
	"runtime"
	"runtime/debug"
	"strconv"

	"github.com/flightcore/recorder/pkg/constpool"
	"github.com/flightcore/recorder/pkg/wire"
)

// Preamble-block section tags. Unlike the constant pool, these sections
// are written once per chunk, immediately after the fixed header, and
// their presence (past the first three) is gated by PreambleOptions.
const (
	tagMetadata = iota
	tagActiveRecording
	tagActiveSetting
	tagOSInformation
	tagCPUInformation
	tagRuntimeInformation
	tagNativeLibrary
)

// PreambleOptions toggles the optional preamble sections a chunk emits.
// It mirrors pkg/config's PreambleConfig; kept as its own type here so
// pkg/chunk has no dependency on pkg/config.
type PreambleOptions struct {
	NoSystemInfo  bool
	NoSystemProps bool
	NoNativeLibs  bool
	NoCPULoad     bool
}

// writePreamble appends the metadata-tree block, the active-recording
// and active-setting records, and — unless disabled — system-info and
// native-library records, to buf. These are written once per chunk,
// right after the header, so a reader can parse them without first
// locating the constant pool at the end of the chunk.
func writePreamble(buf *wire.Buffer, opts PreambleOptions, policy RotationPolicy, resolver *constpool.Resolver, startTimeNanos uint64) error {
	if err := writeMetadataSection(buf, resolver); err != nil {
		return err
	}
	if err := writeActiveRecordingSection(buf, startTimeNanos); err != nil {
		return err
	}
	if err := writeActiveSettingSection(buf, policy, opts); err != nil {
		return err
	}

	if !opts.NoSystemInfo {
		if err := writeOSInformationSection(buf); err != nil {
			return err
		}
		if err := writeCPUInformationSection(buf); err != nil {
			return err
		}
		if err := writeRuntimeInformationSection(buf, opts.NoSystemProps); err != nil {
			return err
		}
	}
	if !opts.NoNativeLibs {
		if err := writeNativeLibrarySection(buf); err != nil {
			return err
		}
	}
	return nil
}

// eventTypeNames lists every event kind the metadata-tree section
// describes, in tag order.
var eventTypeNames = []struct {
	tag  int
	name string
}{
	{EventExecution, "Execution"},
	{EventMethod, "Method"},
	{EventAllocInNewTLAB, "AllocInNewTLAB"},
	{EventAllocOutsideTLAB, "AllocOutsideTLAB"},
	{EventLiveness, "Liveness"},
	{EventMonitorEnter, "MonitorEnter"},
	{EventThreadPark, "ThreadPark"},
	{EventTraceRoot, "TraceRoot"},
	{EventQueueTime, "QueueTime"},
	{EventWallClockEpoch, "WallClockEpoch"},
	{EventLog, "Log"},
	{EventCpuLoad, "CpuLoad"},
	{EventHeapLiveObject, "HeapLiveObject"},
}

// writeMetadataSection emits the event/type descriptor tree: one
// (tag, name) pair per record kind this writer can produce, with the
// name resolved through the same symbol dictionary the constant pool
// uses, so a reader resolves both from one dictionary.
func writeMetadataSection(buf *wire.Buffer, resolver *constpool.Resolver) error {
	if err := buf.Put8(tagMetadata); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(eventTypeNames))); err != nil {
		return err
	}
	for _, d := range eventTypeNames {
		if err := buf.PutVar32(uint32(d.tag)); err != nil {
			return err
		}
		if err := buf.PutVar64(resolver.Symbol(d.name)); err != nil {
			return err
		}
	}
	return nil
}

// writeActiveRecordingSection records when this chunk's recording
// started, the one fact about the active recording a reader needs that
// isn't already in the fixed header.
func writeActiveRecordingSection(buf *wire.Buffer, startTimeNanos uint64) error {
	if err := buf.Put8(tagActiveRecording); err != nil {
		return err
	}
	return buf.PutVar64(startTimeNanos)
}

// writeActiveSettingSection records the rotation policy and the
// preamble gates in effect for this chunk, so a reader can tell why a
// section is absent instead of assuming it was never implemented.
func writeActiveSettingSection(buf *wire.Buffer, policy RotationPolicy, opts PreambleOptions) error {
	if err := buf.Put8(tagActiveSetting); err != nil {
		return err
	}
	if err := buf.PutVar64(uint64(policy.MaxBytes)); err != nil {
		return err
	}
	if err := buf.PutVar64(uint64(policy.MaxAge)); err != nil {
		return err
	}
	flags := byte(0)
	if opts.NoSystemInfo {
		flags |= 1
	}
	if opts.NoSystemProps {
		flags |= 2
	}
	if opts.NoNativeLibs {
		flags |= 4
	}
	if opts.NoCPULoad {
		flags |= 8
	}
	return buf.Put8(flags)
}

// writeOSInformationSection records the host OS and hostname.
func writeOSInformationSection(buf *wire.Buffer) error {
	if err := buf.Put8(tagOSInformation); err != nil {
		return err
	}
	if err := buf.PutUTF8(runtime.GOOS); err != nil {
		return err
	}
	host, _ := os.Hostname()
	return buf.PutUTF8(host)
}

// writeCPUInformationSection records the architecture and logical CPU
// count GOMAXPROCS sizing (pkg/maxprocs) was computed against.
func writeCPUInformationSection(buf *wire.Buffer) error {
	if err := buf.Put8(tagCPUInformation); err != nil {
		return err
	}
	if err := buf.PutUTF8(runtime.GOARCH); err != nil {
		return err
	}
	return buf.PutVar32(uint32(runtime.NumCPU()))
}

// runtimeProperty is one name/value pair in the runtime-information
// section; a slice rather than a map keeps emission order stable.
type runtimeProperty struct{ name, value string }

// writeRuntimeInformationSection records the Go runtime version and,
// unless system properties are disabled, a small set of process
// properties standing in for the managed-runtime system properties a
// JVM-style recorder would report here.
func writeRuntimeInformationSection(buf *wire.Buffer, noSystemProps bool) error {
	if err := buf.Put8(tagRuntimeInformation); err != nil {
		return err
	}
	if err := buf.PutUTF8(runtime.Version()); err != nil {
		return err
	}
	if noSystemProps {
		return buf.PutVar32(0)
	}

	props := []runtimeProperty{
		{"GOOS", runtime.GOOS},
		{"GOARCH", runtime.GOARCH},
		{"GOMAXPROCS", strconv.Itoa(runtime.GOMAXPROCS(0))},
		{"NumGoroutine", strconv.Itoa(runtime.NumGoroutine())},
	}
	if err := buf.PutVar32(uint32(len(props))); err != nil {
		return err
	}
	for _, p := range props {
		if err := buf.PutUTF8(p.name); err != nil {
			return err
		}
		if err := buf.PutUTF8(p.value); err != nil {
			return err
		}
	}
	return nil
}

// writeNativeLibrarySection lists the process's linked module
// dependencies, this core's equivalent of a JVM-style native-library
// table: there are no shared objects to enumerate in a Go binary, but
// the statically linked module set plays the same "what code is loaded"
// role and is already available via runtime/debug.
func writeNativeLibrarySection(buf *wire.Buffer) error {
	if err := buf.Put8(tagNativeLibrary); err != nil {
		return err
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return buf.PutVar32(0)
	}
	if err := buf.PutVar32(uint32(len(info.Deps))); err != nil {
		return err
	}
	for _, d := range info.Deps {
		if err := buf.PutUTF8(d.Path); err != nil {
			return err
		}
		if err := buf.PutUTF8(d.Version); err != nil {
			return err
		}
	}
	return nil
}
