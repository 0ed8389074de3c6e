// Package contextpage implements the shared-memory context page: a
// fixed array of per-thread slots carrying the active span/trace
// correlation an external process can read lock-free while this
// recorder keeps writing.
//
// The mmap-backed layout and the write-span-root-then-checksum ordering
// mirror a Context/ContextPage pairing from an external-correlation
// design: a thread writes its own slot, a reader validates it against a
// checksum before trusting it. golang.org/x/sys/unix.Mmap is the same
// dependency pkg/lanes already uses for positioned writes; here it backs
// a shared view instead of an output file.
package contextpage

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// slotSize is the byte size of one contextSlot: four uint64 fields.
const slotSize = 32

// maxChecksumRetries bounds Get's lock-free read-validation loop.
const maxChecksumRetries = 8

// contextSlot is the on-disk/mmap layout of one thread's context. Its
// field order matters: Set writes SpanID and RootSpanID before
// Checksum, so a reader that validates Checksum == SpanID^RootSpanID
// never observes a torn pair.
type contextSlot struct {
	SpanID      uint64
	RootSpanID  uint64
	Parallelism uint64
	Checksum    uint64
}

// Ctx is the validated snapshot Get returns.
type Ctx struct {
	SpanID      uint64
	RootSpanID  uint64
	Parallelism int32
}

// Page is the mmapped array of per-thread context slots.
type Page struct {
	data       []byte
	maxThreads int
	file       *os.File
}

// Open maps path (created if absent, truncated to the slot array's
// size) as a shared read/write region sized for maxThreads threads.
func Open(path string, maxThreads int) (*Page, error) {
	size := int64(maxThreads) * slotSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("contextpage: open %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("contextpage: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("contextpage: mmap %s: %w", path, err)
	}

	return &Page{data: data, maxThreads: maxThreads, file: f}, nil
}

// newFromBytes backs a Page with caller-owned memory, for tests that
// want atomic/checksum semantics without a real file-backed mapping.
func newFromBytes(data []byte, maxThreads int) *Page {
	return &Page{data: data, maxThreads: maxThreads}
}

// Close unmaps the page and closes the backing file, if any.
func (p *Page) Close() error {
	err := unix.Munmap(p.data)
	if p.file != nil {
		if cerr := p.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// MaxThreads reports the slot capacity the page was opened with.
func (p *Page) MaxThreads() int { return p.maxThreads }

func (p *Page) slot(tid int32) (*contextSlot, bool) {
	idx := int(tid)
	if idx < 0 || idx >= p.maxThreads {
		return nil, false
	}
	off := idx * slotSize
	return (*contextSlot)(unsafe.Pointer(&p.data[off])), true
}

// Set records tid's active span correlation. Parallelism and the
// span/root pair are written before the checksum, so a concurrent
// reader validating Checksum never sees a partially updated slot
//.
func (p *Page) Set(tid int32, spanID, rootSpanID uint64, parallelism int32) bool {
	slot, ok := p.slot(tid)
	if !ok {
		return false
	}
	atomic.StoreUint64(&slot.Parallelism, uint64(uint32(parallelism)))
	atomic.StoreUint64(&slot.SpanID, spanID)
	atomic.StoreUint64(&slot.RootSpanID, rootSpanID)
	atomic.StoreUint64(&slot.Checksum, spanID^rootSpanID)
	return true
}

// Get reads tid's context, retrying a bounded number of times if a
// concurrent writer is mid-update (checksum mismatch).
func (p *Page) Get(tid int32) (Ctx, bool) {
	slot, ok := p.slot(tid)
	if !ok {
		return Ctx{}, false
	}

	for i := 0; i < maxChecksumRetries; i++ {
		span := atomic.LoadUint64(&slot.SpanID)
		root := atomic.LoadUint64(&slot.RootSpanID)
		checksum := atomic.LoadUint64(&slot.Checksum)
		if checksum != span^root {
			continue
		}
		parallelism := atomic.LoadUint64(&slot.Parallelism)
		return Ctx{SpanID: span, RootSpanID: root, Parallelism: int32(parallelism)}, true
	}
	return Ctx{}, false
}
