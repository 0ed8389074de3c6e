// Package methodmap resolves a call-frame identity (a managed method id
// or a native instruction pointer) into the denormalized record a chunk
// needs to emit: class id, name id, signature id, modifiers, a
// line-number table, and a frame type — assigning each newly observed
// frame a dense, chunk-stable key along the way.
//
// Resolution itself is delegated to a RuntimeQuerier collaborator, an
// external concern this package doesn't own; this package owns only the
// identity→key table and the dispatch/classification rules around BCI
// sentinels.
package methodmap

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flightcore/recorder/pkg/events"
)

// LineNumberEntry maps a bytecode index to a source line.
type LineNumberEntry struct {
	StartBCI   int32
	LineNumber int32
}

// RawMethodInfo is what a RuntimeQuerier reports for a managed frame.
type RawMethodInfo struct {
	ClassName      string // internal form, e.g. "java/lang/Thread"
	MethodName     string
	Signature      string
	Modifiers      int32
	LineNumberTable []LineNumberEntry
}

// Modifier bits relevant to entry-method classification (JVM-style access
// flags; only the bits this package inspects are named).
const (
	ModPublic = 0x0001
	ModStatic = 0x0008
)

// RuntimeQuerier resolves a managed method id into its declaring class,
// name, signature, modifiers, and line-number table. A query failure
// (non-nil error) degrades locally: the caller emits a placeholder
// record rather than propagating the error.
type RuntimeQuerier interface {
	QueryMethod(methodID uint64) (RawMethodInfo, error)
	// IsThreadRunSubclass reports whether className is, or is a subclass
	// of, the runtime's thread base class — used to classify run()V as an
	// entry method.
	IsThreadRunSubclass(className string) bool
}

// Method is the fully resolved record for one call-frame identity.
type Method struct {
	ClassID, NameID, SigID, PackageID uint32
	Modifiers                        int32
	LineNumberTable        []LineNumberEntry
	Type                   events.FrameType
	IsEntry                bool
	// Mark records whether this method has been referenced since the
	// last chunk rotation; the chunk writer resets it on rotation and
	// sets it on resolve so only referenced methods go into the next
	// chunk's constant pool.
	Mark bool
	// Key is a dense id assigned on first observation: monotonic within
	// a chunk and stable for that chunk.
	Key uint32
}

// LineNumber returns the source line active at bci, or 0 if the table is
// empty or bci precedes the first recorded line.
func (m *Method) LineNumber(bci int32) int32 {
	if len(m.LineNumberTable) == 0 {
		return 0
	}
	line := int32(0)
	for _, e := range m.LineNumberTable {
		if bci < e.StartBCI {
			break
		}
		line = e.LineNumber
	}
	return line
}

// StringInterner is the subset of *dict.Dictionary the method map needs;
// declared narrowly here so tests can supply a fake.
type StringInterner interface {
	Lookup(s string) uint32
}

// Map resolves frame identities to Methods, assigning dense keys on first
// observation.
type Map struct {
	mu      sync.Mutex
	entries map[events.FrameID]*Method
	nextKey uint32

	classes  StringInterner
	packages StringInterner
	symbols  StringInterner

	runtime RuntimeQuerier

	// nativeCache bounds memory for native call sites with pathological
	// cardinality: demangled C++/kernel names are cached by raw mangled
	// name so a hot native call site doesn't re-demangle on every sample.
	nativeCache *lru.Cache[string, nativeEntry]
}

type nativeEntry struct {
	name       string
	sourceType events.FrameType
}

// Config configures a Map's collaborators and bounded caches.
type Config struct {
	Classes, Packages, Symbols StringInterner
	Runtime                    RuntimeQuerier
	// NativeCacheSize bounds the demangled-native-name cache. Zero
	// selects a sensible default.
	NativeCacheSize int
}

// New constructs an empty method map.
func New(cfg Config) *Map {
	size := cfg.NativeCacheSize
	if size <= 0 {
		size = 4096
	}
	cache, _ := lru.New[string, nativeEntry](size)

	return &Map{
		entries:     make(map[events.FrameID]*Method),
		classes:     cfg.Classes,
		packages:    cfg.Packages,
		symbols:     cfg.Symbols,
		runtime:     cfg.Runtime,
		nativeCache: cache,
	}
}

// Resolve returns the Method for id, creating and classifying it on
// first observation. Within a chunk, repeated calls for the same id
// return the same Key.
func (m *Map) Resolve(id events.FrameID) *Method {
	m.mu.Lock()
	defer m.mu.Unlock()

	if method, ok := m.entries[id]; ok {
		method.Mark = true
		return method
	}

	method := m.classify(id)
	method.Mark = true
	m.nextKey++
	method.Key = m.nextKey
	m.entries[id] = method
	return method
}

// ResetMarks clears every entry's Mark flag, run by the chunk writer on
// rotation.
func (m *Map) ResetMarks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, method := range m.entries {
		method.Mark = false
	}
}

// Marked returns every (id, *Method) pair whose Mark flag is set, for
// constant-pool emission.
func (m *Map) Marked() map[events.FrameID]*Method {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[events.FrameID]*Method)
	for id, method := range m.entries {
		if method.Mark {
			out[id] = method
		}
	}
	return out
}

func (m *Map) classify(id events.FrameID) *Method {
	switch id.BCI {
	case events.BCINativeFrame:
		return m.classifyNative(id.MethodID)
	case events.BCIError:
		return m.classifyError(id.MethodID)
	default:
		return m.classifyManaged(id)
	}
}

// classifyNative looks up the raw symbol name behind the frame's
// "method id", which for native frames is a key the caller registered
// beforehand (see RegisterNativeName). Demangles Itanium C++ names and
// classifies kernel frames by the "_[k]" suffix convention.
func (m *Map) classifyNative(nameIndex uint64) *Method {
	name := nativeNameFor(nameIndex)

	if cached, ok := m.nativeCache.Get(name); ok {
		return &Method{
			ClassID: m.classes.Lookup(""),
			NameID:  m.symbols.Lookup(cached.name),
			SigID:   m.symbols.Lookup("()L;"),
			Type:    cached.sourceType,
		}
	}

	display, frameType := demangleAndClassify(name)
	m.nativeCache.Add(name, nativeEntry{name: display, sourceType: frameType})

	return &Method{
		ClassID: m.classes.Lookup(""),
		NameID:  m.symbols.Lookup(display),
		SigID:   m.symbols.Lookup("()L;"),
		Type:    frameType,
	}
}

// nativeNameRegistry lets callers register the raw symbol name behind a
// synthetic native "method id" before resolution; real stack unwinders
// hand back resolved C strings directly, but this keeps FrameID a plain
// value type instead of carrying an unsafe pointer.
var nativeNameRegistry sync.Map // uint64 -> string

// RegisterNativeName associates a synthetic native frame id with its raw
// (possibly mangled) symbol name. Returns the id for convenience.
func RegisterNativeName(id uint64, name string) uint64 {
	nativeNameRegistry.Store(id, name)
	return id
}

func nativeNameFor(id uint64) string {
	if v, ok := nativeNameRegistry.Load(id); ok {
		return v.(string)
	}
	return ""
}

func demangleAndClassify(name string) (string, events.FrameType) {
	if strings.HasPrefix(name, "_Z") {
		if demangled, ok := demangleItanium(name); ok {
			return cutArguments(demangled), events.FrameCpp
		}
	}
	if isKernelSymbol(name) {
		return name, events.FrameKernel
	}
	return name, events.FrameNative
}

// isKernelSymbol matches the "_[k]" suffix convention used to flag
// kernel module symbols (e.g. "do_syscall_64_[k]").
func isKernelSymbol(name string) bool {
	return strings.HasSuffix(name, "_[k]")
}

// cutArguments trims a demangled C++ signature down to "Class::method",
// dropping the "(args)" suffix the way flightRecorder.cpp's
// cutArguments does, so the symbol interned into the dictionary is short
// and stable across overload changes.
func cutArguments(demangled string) string {
	if i := strings.IndexByte(demangled, '('); i >= 0 {
		return demangled[:i]
	}
	return demangled
}

func (m *Map) classifyError(statusIndex uint64) *Method {
	status := nativeNameFor(statusIndex)
	return &Method{
		ClassID: m.classes.Lookup(""),
		NameID:  m.symbols.Lookup(status),
		SigID:   m.symbols.Lookup("()L;"),
		Type:    events.FrameNative,
	}
}

func (m *Map) classifyManaged(id events.FrameID) *Method {
	info, err := m.runtime.QueryMethod(id.MethodID)
	if err != nil {
		// Runtime query failure degrades locally: placeholder class
		// (empty string) + name "jvmtiError", the record stays
		// structurally valid.
		return &Method{
			ClassID: m.classes.Lookup(""),
			NameID:  m.symbols.Lookup("jvmtiError"),
			SigID:   m.symbols.Lookup(""),
			Type:    events.FrameInterpreted,
		}
	}

	pkg, cls := splitPackage(info.ClassName)

	method := &Method{
		ClassID:         m.classes.Lookup(cls),
		PackageID:       m.packages.Lookup(pkg),
		NameID:          m.symbols.Lookup(info.MethodName),
		SigID:           m.symbols.Lookup(info.Signature),
		Modifiers:       info.Modifiers,
		LineNumberTable: info.LineNumberTable,
		Type:            events.FrameInterpreted,
	}
	method.IsEntry = m.isEntryMethod(info, method.Modifiers)
	return method
}

// isEntryMethod decides whether a frame is the outermost "true entry"
// frame: Thread.run()V on a Thread subclass, or
// main([Ljava/lang/String;)V with the public or the static bit set.
//
// A naive reading of "modifiers & 9 != 0" by C operator precedence
// means "modifiers & (9 != 0)", almost certainly not the intended check.
// The parenthesised form is implemented here instead:
// (modifiers & (ModPublic|ModStatic)) != 0, true when either bit is set.
func (m *Map) isEntryMethod(info RawMethodInfo, modifiers int32) bool {
	if info.MethodName == "run" && info.Signature == "()V" && m.runtime.IsThreadRunSubclass(info.ClassName) {
		return true
	}
	if info.MethodName == "main" && info.Signature == "([Ljava/lang/String;)V" {
		return (modifiers & (ModPublic | ModStatic)) != 0
	}
	return false
}

// splitPackage derives the package name from an internal class name:
// everything before the last '/', with special handling for array
// descriptors (skip to the first 'L') and hidden/anonymous class names
// of the form ".../0xNNNN..." (back up to the preceding '/').
func splitPackage(internalName string) (pkg, class string) {
	name := internalName
	if strings.HasPrefix(name, "[") {
		if i := strings.IndexByte(name, 'L'); i >= 0 {
			name = name[i+1:]
			name = strings.TrimSuffix(name, ";")
		}
	}

	slash := strings.LastIndexByte(name, '/')
	if slash < 0 {
		return "", name
	}

	// Hidden/anonymous class names embed a synthetic "/0x..." segment;
	// back up to the preceding '/' so the package doesn't include it.
	if isHiddenClassSuffix(name[slash+1:]) {
		if prev := strings.LastIndexByte(name[:slash], '/'); prev >= 0 {
			return name[:prev], name[prev+1:]
		}
		return "", name
	}

	return name[:slash], name[slash+1:]
}

func isHiddenClassSuffix(segment string) bool {
	return strings.HasPrefix(segment, "0x")
}
