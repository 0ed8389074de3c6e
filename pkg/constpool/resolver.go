// Package constpool binds the string dictionaries and the method map into
// a single per-chunk resolver: the chunk writer asks it for a base id and
// for the marked-since-rotation entries of each category, and advances it
// by a fixed stride on every rotation so cross-chunk ids never collide.
package constpool

import (
	"github.com/flightcore/recorder/pkg/dict"
	"github.com/flightcore/recorder/pkg/events"
	"github.com/flightcore/recorder/pkg/methodmap"
)

// BaseIDStride is added to base_id on every chunk rotation.
const BaseIDStride = 0x1000000

// Dictionaries groups the three string dictionaries the method map
// shares with the chunk writer's other constant-pool sections.
type Dictionaries struct {
	Symbols  *dict.Dictionary
	Packages *dict.Dictionary
	Classes  *dict.Dictionary
}

// Resolver is the chunk writer's single point of contact for constant
// pool identity: method resolution, string interning, and base-id
// biasing, all scoped to the current chunk.
type Resolver struct {
	Methods *methodmap.Map
	Dicts   Dictionaries

	baseID uint64
}

// New constructs a Resolver starting at base id 0 (the first chunk of a
// recording).
func New(methods *methodmap.Map, dicts Dictionaries) *Resolver {
	return &Resolver{Methods: methods, Dicts: dicts}
}

// BaseID returns the id bias for the current chunk.
func (r *Resolver) BaseID() uint64 {
	return r.baseID
}

// Advance biases the resolver for the next chunk and resets the method
// map's mark bits, so the next chunk's constant pool only contains the
// methods it actually references.
// The dictionaries' own "newly observed" watermark is drained separately
// by the chunk writer's Collect calls at emission time, immediately
// before Advance is called.
func (r *Resolver) Advance() {
	r.baseID += BaseIDStride
	r.Methods.ResetMarks()
}

// Symbol interns s into the symbol dictionary and returns its biased id.
func (r *Resolver) Symbol(s string) uint64 {
	return r.baseID + uint64(r.Dicts.Symbols.Lookup(s))
}

// Package interns s into the package dictionary and returns its biased id.
func (r *Resolver) Package(s string) uint64 {
	return r.baseID + uint64(r.Dicts.Packages.Lookup(s))
}

// Class interns s into the class dictionary and returns its biased id.
func (r *Resolver) Class(s string) uint64 {
	return r.baseID + uint64(r.Dicts.Classes.Lookup(s))
}

// MethodKey resolves a call-frame identity and returns its biased,
// chunk-stable key.
func (r *Resolver) MethodKey(id events.FrameID) uint64 {
	return r.baseID + uint64(r.Methods.Resolve(id).Key)
}
