package methodmap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flightcore/recorder/pkg/events"
)

type fakeInterner struct {
	next uint32
	ids  map[string]uint32
}

func newFakeInterner() *fakeInterner {
	return &fakeInterner{next: 1, ids: make(map[string]uint32)}
}

func (f *fakeInterner) Lookup(s string) uint32 {
	if id, ok := f.ids[s]; ok {
		return id
	}
	id := f.next
	f.next++
	f.ids[s] = id
	return id
}

type fakeRuntime struct {
	methods map[uint64]RawMethodInfo
	runSubclasses map[string]bool
}

func (f *fakeRuntime) QueryMethod(id uint64) (RawMethodInfo, error) {
	info, ok := f.methods[id]
	if !ok {
		return RawMethodInfo{}, errors.New("unknown method id")
	}
	return info, nil
}

func (f *fakeRuntime) IsThreadRunSubclass(className string) bool {
	return f.runSubclasses[className]
}

func newTestMap(rt *fakeRuntime) (*Map, *fakeInterner, *fakeInterner, *fakeInterner) {
	classes := newFakeInterner()
	packages := newFakeInterner()
	symbols := newFakeInterner()
	m := New(Config{Classes: classes, Packages: packages, Symbols: symbols, Runtime: rt})
	return m, classes, packages, symbols
}

func TestResolveManagedFrameAssignsDenseKeys(t *testing.T) {
	rt := &fakeRuntime{methods: map[uint64]RawMethodInfo{
		1: {ClassName: "com/example/Worker", MethodName: "run", Signature: "()V"},
		2: {ClassName: "com/example/Worker", MethodName: "poll", Signature: "()V"},
	}}
	m, _, _, _ := newTestMap(rt)

	a := m.Resolve(events.FrameID{MethodID: 1, BCI: 5})
	b := m.Resolve(events.FrameID{MethodID: 2, BCI: 3})
	require.Equal(t, uint32(1), a.Key)
	require.Equal(t, uint32(2), b.Key)

	again := m.Resolve(events.FrameID{MethodID: 1, BCI: 5})
	require.Equal(t, a.Key, again.Key)
	require.Same(t, a, again)
}

func TestResolveSplitsPackageAndClass(t *testing.T) {
	rt := &fakeRuntime{methods: map[uint64]RawMethodInfo{
		1: {ClassName: "com/example/Worker", MethodName: "poll", Signature: "()V"},
	}}
	m, classes, packages, symbols := newTestMap(rt)

	m.Resolve(events.FrameID{MethodID: 1, BCI: 0})
	require.Contains(t, classes.ids, "Worker")
	require.Contains(t, packages.ids, "com/example")
	require.Contains(t, symbols.ids, "poll")
}

func TestResolveHiddenClassBacksUpPackage(t *testing.T) {
	rt := &fakeRuntime{methods: map[uint64]RawMethodInfo{
		1: {ClassName: "com/example/Worker$$Lambda/0x000001a2", MethodName: "run", Signature: "()V"},
	}}
	m, classes, packages, _ := newTestMap(rt)

	m.Resolve(events.FrameID{MethodID: 1, BCI: 0})
	require.Contains(t, packages.ids, "com/example")
	require.Contains(t, classes.ids, "Worker$$Lambda")
}

func TestResolveRuntimeQueryFailureEmitsPlaceholder(t *testing.T) {
	rt := &fakeRuntime{methods: map[uint64]RawMethodInfo{}}
	m, _, _, symbols := newTestMap(rt)

	method := m.Resolve(events.FrameID{MethodID: 99, BCI: 0})
	require.Equal(t, symbols.ids["jvmtiError"], method.NameID)
}

func TestResolveNativeFrameDemanglesCppName(t *testing.T) {
	rt := &fakeRuntime{}
	m, _, _, symbols := newTestMap(rt)

	id := RegisterNativeName(1, "_Z3foo3barE")
	method := m.Resolve(events.FrameID{MethodID: id, BCI: events.BCINativeFrame})
	require.Equal(t, events.FrameCpp, method.Type)
	require.Contains(t, symbols.ids, "foo::bar")
}

func TestResolveNativeFrameUnknownMangling(t *testing.T) {
	rt := &fakeRuntime{}
	m, _, _, _ := newTestMap(rt)

	id := RegisterNativeName(2, "malloc")
	method := m.Resolve(events.FrameID{MethodID: id, BCI: events.BCINativeFrame})
	require.Equal(t, events.FrameNative, method.Type)
}

func TestResolveNativeFrameKernelSymbol(t *testing.T) {
	rt := &fakeRuntime{}
	m, _, _, _ := newTestMap(rt)

	id := RegisterNativeName(3, "do_syscall_64_[k]")
	method := m.Resolve(events.FrameID{MethodID: id, BCI: events.BCINativeFrame})
	require.Equal(t, events.FrameKernel, method.Type)
}

func TestIsEntryMethodMainRequiresPublicOrStatic(t *testing.T) {
	rt := &fakeRuntime{methods: map[uint64]RawMethodInfo{
		1: {ClassName: "com/example/Main", MethodName: "main", Signature: "([Ljava/lang/String;)V", Modifiers: ModPublic | ModStatic},
		2: {ClassName: "com/example/Main", MethodName: "main", Signature: "([Ljava/lang/String;)V", Modifiers: ModPublic},
		3: {ClassName: "com/example/Main", MethodName: "main", Signature: "([Ljava/lang/String;)V", Modifiers: 0},
	}}
	m, _, _, _ := newTestMap(rt)

	entry := m.Resolve(events.FrameID{MethodID: 1, BCI: 0})
	require.True(t, entry.IsEntry)

	publicOnly := m.Resolve(events.FrameID{MethodID: 2, BCI: 0})
	require.True(t, publicOnly.IsEntry)

	notEntry := m.Resolve(events.FrameID{MethodID: 3, BCI: 0})
	require.False(t, notEntry.IsEntry)
}

func TestIsEntryMethodThreadRun(t *testing.T) {
	rt := &fakeRuntime{
		methods: map[uint64]RawMethodInfo{
			1: {ClassName: "com/example/Worker", MethodName: "run", Signature: "()V"},
		},
		runSubclasses: map[string]bool{"com/example/Worker": true},
	}
	m, _, _, _ := newTestMap(rt)

	entry := m.Resolve(events.FrameID{MethodID: 1, BCI: 0})
	require.True(t, entry.IsEntry)
}

func TestLineNumberLookup(t *testing.T) {
	method := &Method{LineNumberTable: []LineNumberEntry{
		{StartBCI: 0, LineNumber: 10},
		{StartBCI: 20, LineNumber: 11},
		{StartBCI: 40, LineNumber: 12},
	}}
	require.Equal(t, int32(10), method.LineNumber(5))
	require.Equal(t, int32(11), method.LineNumber(25))
	require.Equal(t, int32(12), method.LineNumber(100))
}

func TestMarkResetAndCollect(t *testing.T) {
	rt := &fakeRuntime{methods: map[uint64]RawMethodInfo{
		1: {ClassName: "com/example/Worker", MethodName: "run", Signature: "()V"},
	}}
	m, _, _, _ := newTestMap(rt)

	id := events.FrameID{MethodID: 1, BCI: 0}
	m.Resolve(id)
	require.Len(t, m.Marked(), 1)

	m.ResetMarks()
	require.Empty(t, m.Marked())

	m.Resolve(id)
	require.Len(t, m.Marked(), 1)
}
