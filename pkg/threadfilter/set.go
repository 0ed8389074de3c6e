// Package threadfilter implements the accepted-thread-id bitset that
// gates which samples the recording core keeps: add, accept-check,
// collect.
package threadfilter

import (
	stdbits "math/bits"
	"path"
	"strconv"
	"sync"
)

const wordBits = 64

// Set is a growable bitset of accepted thread ids. Add is only ever
// called from the control path (start/stop, or a filter-config change),
// so the single RWMutex here costs nothing on the sampling hot path,
// which only ever calls Accepts.
type Set struct {
	mu    sync.RWMutex
	words []uint64
	// maxSeen tracks the highest tid added.
	maxSeen int32
	// filters holds glob patterns matched against a tid's decimal string
	// form; empty means "no filter configured", under which Accepts
	// falls back to the bitset alone.
	filters []string
}

// New constructs an empty thread filter set.
func New() *Set {
	return &Set{}
}

// Add marks tid as accepted.
func (s *Set) Add(tid int32) {
	if tid < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	word := int(tid) / wordBits
	for len(s.words) <= word {
		s.words = append(s.words, 0)
	}
	s.words[word] |= 1 << (uint(tid) % wordBits)
	if tid > s.maxSeen {
		s.maxSeen = tid
	}
}

// Remove clears tid from the set.
func (s *Set) Remove(tid int32) {
	if tid < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	word := int(tid) / wordBits
	if word >= len(s.words) {
		return
	}
	s.words[word] &^= 1 << (uint(tid) % wordBits)
}

// Accepts reports whether tid is currently in the set. Safe to call
// concurrently from many sampler threads. When filter patterns are
// configured (via SetFilters/Configure), tid must also match one of
// them, on top of being in the bitset.
func (s *Set) Accepts(tid int32) bool {
	if tid < 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	word := int(tid) / wordBits
	if word >= len(s.words) {
		return false
	}
	if s.words[word]&(1<<(uint(tid)%wordBits)) == 0 {
		return false
	}
	return s.matchesFilter(tid)
}

// matchesFilter reports whether tid matches one of the configured
// glob filter patterns, or true if none are configured. Called with
// mu held for reading.
func (s *Set) matchesFilter(tid int32) bool {
	if len(s.filters) == 0 {
		return true
	}
	tidStr := strconv.Itoa(int(tid))
	for _, pattern := range s.filters {
		if ok, err := path.Match(pattern, tidStr); err == nil && ok {
			return true
		}
	}
	return false
}

// SetFilters replaces the configured glob filter patterns, matched
// against a tid's decimal string form. An empty or nil patterns slice
// disables filtering entirely.
func (s *Set) SetFilters(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = patterns
}

// Configure applies a selector's include/exclude/filter lists in one
// call: include and exclude are decimal thread-id strings added to or
// removed from the set, and filter is passed through to SetFilters.
// Malformed entries in include/exclude are skipped.
func (s *Set) Configure(include, exclude, filter []string) {
	for _, tok := range include {
		if tid, err := strconv.Atoi(tok); err == nil {
			s.Add(int32(tid))
		}
	}
	for _, tok := range exclude {
		if tid, err := strconv.Atoi(tok); err == nil {
			s.Remove(int32(tid))
		}
	}
	s.SetFilters(filter)
}

// Collect returns every thread id in the bitset in ascending order;
// configured glob filters are not applied.
func (s *Set) Collect() []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []int32
	for word, bits := range s.words {
		w := bits
		for w != 0 {
			bit := stdbits.TrailingZeros64(w)
			tid := int32(word*wordBits + bit)
			out = append(out, tid)
			w &^= 1 << uint(bit)
		}
	}
	return out
}

// Clear removes every accepted thread id.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words = nil
	s.maxSeen = 0
	s.filters = nil
}
