// File: pool/page.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Page: a fixed byte region with a first-fit free-extent tracker.

package pool

import (
	"sort"
	"sync"
	"sync/atomic"
)

// extent is a free [off, off+size) range inside a page.
type extent struct {
	off  int
	size int
}

// page is one contiguous backing region. free is kept sorted by offset and
// never holds two adjacent extents.
type page struct {
	id        int
	mu        sync.Mutex
	data      []byte
	free      []extent
	freeBytes atomic.Int64 // hint for lock-free skipping in Pool.Get
}

func newPage(id, size int) *page {
	p := &page{
		id:   id,
		data: make([]byte, size),
		free: []extent{{off: 0, size: size}},
	}
	p.freeBytes.Store(int64(size))
	return p
}

// alloc reserves size bytes; ok is false if no extent is large enough.
func (p *page) alloc(size int) (off int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.free {
		if e.size < size {
			continue
		}
		off = e.off
		if e.size == size {
			p.free = append(p.free[:i], p.free[i+1:]...)
		} else {
			p.free[i] = extent{off: e.off + size, size: e.size - size}
		}
		p.freeBytes.Add(-int64(size))
		return off, true
	}
	return 0, false
}

// release returns [off, off+size) and merges it with adjacent free extents.
func (p *page) release(off, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].off > off })

	mergePrev := i > 0 && p.free[i-1].off+p.free[i-1].size == off
	mergeNext := i < len(p.free) && off+size == p.free[i].off

	switch {
	case mergePrev && mergeNext:
		p.free[i-1].size += size + p.free[i].size
		p.free = append(p.free[:i], p.free[i+1:]...)
	case mergePrev:
		p.free[i-1].size += size
	case mergeNext:
		p.free[i].off = off
		p.free[i].size += size
	default:
		p.free = append(p.free, extent{})
		copy(p.free[i+1:], p.free[i:])
		p.free[i] = extent{off: off, size: size}
	}
	p.freeBytes.Add(int64(size))
}

// largestFree is used by tests and stats.
func (p *page) largestFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	max := 0
	for _, e := range p.free {
		if e.size > max {
			max = e.size
		}
	}
	return max
}
