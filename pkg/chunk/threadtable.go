package chunk

import "sync"

// threadEntry is one row of the chunk's thread constant-pool section.
type threadEntry struct {
	tid   int32
	name  string
	mark  bool
}

// threadTable interns the (tid, name) pairs referenced by this chunk's
// events, grounded on the same "observe once, mark, collect-and-reset at
// rotation" shape as pkg/dict, but keyed by thread id rather than string
// content since a thread's displayed name can change across observations
// while its id stays the constant-pool key.
type threadTable struct {
	mu      sync.Mutex
	byTID   map[int32]*threadEntry
	order   []int32
}

func newThreadTable() *threadTable {
	return &threadTable{byTID: make(map[int32]*threadEntry)}
}

// Intern records that tid (displaying as name) was referenced by an
// event in the current chunk, returning its stable index within the
// section (assigned on first observation, stable for the table's
// lifetime).
func (t *threadTable) Intern(tid int32, name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byTID[tid]; ok {
		e.mark = true
		e.name = name
		for i, v := range t.order {
			if v == tid {
				return i
			}
		}
	}

	t.byTID[tid] = &threadEntry{tid: tid, name: name, mark: true}
	t.order = append(t.order, tid)
	return len(t.order) - 1
}

// Marked returns every entry referenced since the last ResetMarks call,
// in table order.
func (t *threadTable) Marked() []threadEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]threadEntry, 0, len(t.order))
	for _, tid := range t.order {
		if e := t.byTID[tid]; e.mark {
			out = append(out, *e)
		}
	}
	return out
}

// ResetMarks clears every entry's mark, run on chunk rotation.
func (t *threadTable) ResetMarks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.byTID {
		e.mark = false
	}
}
