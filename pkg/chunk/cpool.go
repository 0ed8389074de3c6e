package chunk

import (
	"github.com/flightcore/recorder/pkg/constpool"
	"github.com/flightcore/recorder/pkg/dict"
	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/wire"
)

// Constant-pool section tags, in emission order.
const (
	secFrameType = iota
	secThreadState
	secThread
	secStackTrace
	secMethod
	secClass
	secPackage
	secSymbol
	secString
	secLogLevel

	// sectionCount is tied to the length of the section list above, per
	// the Open Question decision to compute rather than hardcode it.
	sectionCount = secLogLevel + 1
)

// writeConstantPool appends the chunk's entire constant-pool block —
// a 5-byte patchable size prefix, a section-count byte, then each
// section — to buf, then patches the size prefix with the block's final
// size. It returns the offset (within buf) of that size prefix.
func writeConstantPool(buf *wire.Buffer, resolver *constpool.Resolver, threads *threadTable, traces *stackTraceTable) (int, error) {
	sizeOffset, err := buf.Skip(wire.PatchSlotSize)
	if err != nil {
		return 0, err
	}

	if err := buf.Put8(byte(sectionCount)); err != nil {
		return 0, err
	}

	if err := writeFrameTypeSection(buf); err != nil {
		return 0, err
	}
	if err := writeThreadStateSection(buf); err != nil {
		return 0, err
	}
	if err := writeThreadSection(buf, threads); err != nil {
		return 0, err
	}
	if err := writeStackTraceSection(buf, traces); err != nil {
		return 0, err
	}
	if err := writeMethodSection(buf, resolver); err != nil {
		return 0, err
	}
	if err := writeDictSection(buf, secClass, resolver.Dicts.Classes.Collect()); err != nil {
		return 0, err
	}
	if err := writeDictSection(buf, secPackage, resolver.Dicts.Packages.Collect()); err != nil {
		return 0, err
	}
	if err := writeDictSection(buf, secSymbol, resolver.Dicts.Symbols.Collect()); err != nil {
		return 0, err
	}
	if err := writeStringSection(buf); err != nil {
		return 0, err
	}
	if err := writeLogLevelSection(buf); err != nil {
		return 0, err
	}

	end := buf.Len()
	buf.PatchVar32(sizeOffset, uint32(end-sizeOffset))
	return sizeOffset, nil
}

func writeFrameTypeSection(buf *wire.Buffer) error {
	types := []events.FrameType{
		events.FrameInterpreted, events.FrameJITCompiled, events.FrameInlined,
		events.FrameNative, events.FrameCpp, events.FrameKernel, events.FrameC1Compiled,
	}
	if err := buf.Put8(byte(secFrameType)); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(types))); err != nil {
		return err
	}
	for i, t := range types {
		if err := buf.PutVar32(uint32(i)); err != nil {
			return err
		}
		if err := buf.PutUTF8(t.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeThreadStateSection(buf *wire.Buffer) error {
	states := []events.ThreadState{
		events.ThreadUnknown, events.ThreadRunnable, events.ThreadSleeping,
		events.ThreadBlockedOnMonitorEnter, events.ThreadWaiting, events.ThreadParked,
		events.ThreadTerminated,
	}
	if err := buf.Put8(byte(secThreadState)); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(states))); err != nil {
		return err
	}
	for i, s := range states {
		if err := buf.PutVar32(uint32(i)); err != nil {
			return err
		}
		if err := buf.PutUTF8(s.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeLogLevelSection(buf *wire.Buffer) error {
	levels := []events.LogLevel{
		events.LogTrace, events.LogDebug, events.LogInfo, events.LogWarn, events.LogError,
	}
	if err := buf.Put8(byte(secLogLevel)); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(levels))); err != nil {
		return err
	}
	for i, l := range levels {
		if err := buf.PutVar32(uint32(i)); err != nil {
			return err
		}
		if err := buf.PutUTF8(l.String()); err != nil {
			return err
		}
	}
	return nil
}

// writeStringSection is a placeholder for ad hoc UTF-8 payload strings
// (e.g. log messages) that do not warrant their own dictionary; current
// event encoders inline their strings, so this section is emitted empty
// but present, keeping the section count and reader expectations stable.
func writeStringSection(buf *wire.Buffer) error {
	if err := buf.Put8(byte(secString)); err != nil {
		return err
	}
	return buf.PutVar32(0)
}

func writeThreadSection(buf *wire.Buffer, threads *threadTable) error {
	entries := threads.Marked()
	if err := buf.Put8(byte(secThread)); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := buf.PutVar32(uint32(e.tid)); err != nil {
			return err
		}
		if err := buf.PutUTF8(e.name); err != nil {
			return err
		}
	}
	return nil
}

func writeStackTraceSection(buf *wire.Buffer, traces *stackTraceTable) error {
	entries := traces.Marked()
	if err := buf.Put8(byte(secStackTrace)); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := buf.PutVar32(e.id); err != nil {
			return err
		}
		flags := byte(0)
		if e.trace.Truncated {
			flags |= 1
		}
		if e.trace.IsEntry {
			flags |= 2
		}
		if err := buf.Put8(flags); err != nil {
			return err
		}
		if err := buf.PutVar32(uint32(len(e.trace.Frames))); err != nil {
			return err
		}
		for _, f := range e.trace.Frames {
			if err := buf.PutVar32(f.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeMethodSection(buf *wire.Buffer, resolver *constpool.Resolver) error {
	entries := resolver.Methods.Marked()
	if err := buf.Put8(byte(secMethod)); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(entries))); err != nil {
		return err
	}
	for _, m := range entries {
		if err := buf.PutVar32(m.Key); err != nil {
			return err
		}
		if err := buf.PutVar32(m.ClassID); err != nil {
			return err
		}
		if err := buf.PutVar32(m.NameID); err != nil {
			return err
		}
		if err := buf.PutVar32(m.SigID); err != nil {
			return err
		}
		if err := buf.PutVar32(uint32(m.Modifiers)); err != nil {
			return err
		}
		flags := byte(0)
		if m.IsEntry {
			flags |= 1
		}
		if err := buf.Put8(flags); err != nil {
			return err
		}
		if err := buf.Put8(byte(m.Type)); err != nil {
			return err
		}
		if err := buf.PutVar32(uint32(len(m.LineNumberTable))); err != nil {
			return err
		}
		for _, ln := range m.LineNumberTable {
			if err := buf.PutVar32(uint32(ln.StartBCI)); err != nil {
				return err
			}
			if err := buf.PutVar32(uint32(ln.LineNumber)); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeDictSection(buf *wire.Buffer, tag int, entries []dict.Entry) error {
	if err := buf.Put8(byte(tag)); err != nil {
		return err
	}
	if err := buf.PutVar32(uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := buf.PutVar32(e.ID); err != nil {
			return err
		}
		if err := buf.PutUTF8(e.Value); err != nil {
			return err
		}
	}
	return nil
}
