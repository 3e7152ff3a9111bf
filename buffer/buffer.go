// Package buffer provides reference-counted, owned byte buffers. A
// buffer has exactly one owner responsible for release at any given
// time; zero-copy slices retain their parent so the backing array is
// only returned to the allocator once every slice and the original
// buffer have been released.
package buffer

import (
	"sync"
	"sync/atomic"
)

// Allocator hands out Buffers and is typically shared across pipelines;
// it must be safe for concurrent use.
//
// The free list is a plain mutex-guarded slice rather than sync.Pool:
// sync.Pool may evict between GCs, which would make allocation counts
// nondeterministic and defeat tests asserting that outstanding buffers
// drop to zero within one loop tick of a cancel.
type Allocator struct {
	mu          sync.Mutex
	free        [][]byte
	outstanding atomic.Int32
}

// NewAllocator creates an Allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Alloc returns a Buffer with capacity at least n, backed either by a
// reused slice from the free list or a fresh allocation.
func (a *Allocator) Alloc(n int) *Buffer {
	a.mu.Lock()
	var raw []byte
	if k := len(a.free); k > 0 && cap(a.free[k-1]) >= n {
		raw = a.free[k-1][:n]
		a.free = a.free[:k-1]
	} else {
		raw = make([]byte, n)
	}
	a.mu.Unlock()

	a.outstanding.Add(1)
	b := &Buffer{data: raw, alloc: a}
	b.refCount.Store(1)
	return b
}

// put returns raw to the free list for reuse. Called only from
// Buffer.Release when the reference count reaches zero.
func (a *Allocator) put(raw []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) < 64 {
		a.free = append(a.free, raw[:0])
	}
}

// Outstanding reports the number of Buffers currently allocated by a that
// have not yet been released. Exposed for tests that assert buffers are
// fully released after cancel or error.
func (a *Allocator) Outstanding() int {
	return int(a.outstanding.Load())
}

// Buffer is an owned, reference-counted byte region. The zero value is
// not usable; obtain one via Allocator.Alloc or Wrap.
type Buffer struct {
	data     []byte
	refCount atomic.Int32
	alloc    *Allocator
	parent   *Buffer // non-nil for zero-copy slices
}

// Wrap adopts an existing byte slice as a single-owner Buffer not backed
// by any Allocator free list; Release on a wrapped buffer is a no-op
// beyond decrementing the ref count. Used for data that already has its
// own lifetime (e.g. bytes read once from a local file and never reused).
func Wrap(data []byte) *Buffer {
	b := &Buffer{data: data}
	b.refCount.Store(1)
	return b
}

// Len returns the number of readable bytes in the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the buffer's backing slice. Callers must not retain it
// past Release.
func (b *Buffer) Bytes() []byte { return b.data }

// Retain increments the reference count and returns b, for callers that
// hand the same buffer to more than one owner (e.g. a pending-chunk queue
// and an in-flight on_next delivery racing a cancel).
func (b *Buffer) Retain() *Buffer {
	b.refCount.Add(1)
	return b
}

// Slice returns a zero-copy view into b's data. The slice keeps b alive
// (via Retain) until the slice itself is released.
func (b *Buffer) Slice(off, length int) *Buffer {
	b.Retain()
	s := &Buffer{data: b.data[off : off+length], parent: b}
	s.refCount.Store(1)
	return s
}

// Release decrements the reference count. At zero, a root buffer
// allocated by an Allocator returns its storage to the pool; a slice
// releases its parent instead.
func (b *Buffer) Release() {
	if b.refCount.Add(-1) > 0 {
		return
	}
	if b.parent != nil {
		b.parent.Release()
		return
	}
	if b.alloc != nil {
		b.alloc.outstanding.Add(-1)
		b.alloc.put(b.data)
	}
}
