package chunk

import (
	"strconv"
	"strings"
	"sync"

	"github.com/flightcore/recorder/pkg/events"
)

// stackTraceEntry is one row of the chunk's stack-trace constant-pool
// section: a resolved call trace plus the method keys its frames resolve
// to, assigned a dense id on first observation.
type stackTraceEntry struct {
	id      uint32
	trace   events.CallTrace
	mark    bool
}

// stackTraceTable deduplicates call traces by content within a chunk,
// the same shape as pkg/dict's string interning but keyed by trace
// content rather than string bytes.
type stackTraceTable struct {
	mu     sync.Mutex
	byKey  map[string]*stackTraceEntry
	byID   map[uint32]*stackTraceEntry
	nextID uint32
}

func newStackTraceTable() *stackTraceTable {
	return &stackTraceTable{
		byKey: make(map[string]*stackTraceEntry),
		byID:  make(map[uint32]*stackTraceEntry),
	}
}

// Intern returns the dense id for trace, assigning one on first
// observation of this exact frame sequence.
func (t *stackTraceTable) Intern(trace events.CallTrace) uint32 {
	key := traceKey(trace)

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byKey[key]; ok {
		e.mark = true
		return e.id
	}

	e := &stackTraceEntry{id: t.nextID, trace: trace, mark: true}
	t.nextID++
	t.byKey[key] = e
	t.byID[e.id] = e
	return e.id
}

// Lookup returns the call trace previously interned under id, for
// callers (the liveness tracker) that only kept the dense id around and
// need the frames back to track or re-intern them later.
func (t *stackTraceTable) Lookup(id uint32) (events.CallTrace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return events.CallTrace{}, false
	}
	return e.trace, true
}

// Marked returns every trace referenced since the last ResetMarks call.
func (t *stackTraceTable) Marked() []stackTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]stackTraceEntry, 0, len(t.byKey))
	for _, e := range t.byKey {
		if e.mark {
			out = append(out, *e)
		}
	}
	return out
}

// ResetMarks clears every entry's mark, run on chunk rotation.
func (t *stackTraceTable) ResetMarks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.byKey {
		e.mark = false
	}
}

func traceKey(trace events.CallTrace) string {
	var b strings.Builder
	if trace.Truncated {
		b.WriteByte('T')
	}
	if trace.IsEntry {
		b.WriteByte('E')
	}
	for _, f := range trace.Frames {
		b.WriteByte('|')
		b.WriteString(strconv.FormatUint(f.ID.MethodID, 36))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(int64(f.ID.BCI), 36))
	}
	return b.String()
}
