// File: pool/lease.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lease: an owned window over a page region with read/write cursors.

package pool

import (
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
)

// Lease is a handle to a slice of a page (or a heap region). Bytes are
// appended at the write cursor and consumed from the read cursor. A Lease has
// one owner at a time; after Release any access panics with
// api.ErrLeaseReleased.
type Lease struct {
	pool   *Pool
	page   *page
	off    int // offset inside page
	region int // bytes reserved from the page or heap
	buf    []byte
	r, w   int

	released atomic.Bool
}

var _ api.Buffer = (*Lease)(nil)

// Wrap exposes caller-owned bytes as a readable lease. The lease belongs to
// no pool; releasing it only marks it dead.
func Wrap(b []byte) *Lease {
	return &Lease{buf: b, w: len(b), region: len(b)}
}

func (l *Lease) mustLive() {
	if l.released.Load() {
		panic(api.ErrLeaseReleased)
	}
}

// Bytes returns the unread window.
func (l *Lease) Bytes() []byte {
	l.mustLive()
	return l.buf[l.r:l.w]
}

// Len returns the number of unread bytes.
func (l *Lease) Len() int {
	l.mustLive()
	return l.w - l.r
}

// Cap returns the usable capacity.
func (l *Lease) Cap() int {
	l.mustLive()
	return len(l.buf)
}

// Writable returns the free space behind the write cursor.
func (l *Lease) Writable() int {
	l.mustLive()
	return len(l.buf) - l.w
}

// Advance consumes n unread bytes.
func (l *Lease) Advance(n int) {
	l.mustLive()
	if n < 0 || n > l.w-l.r {
		panic("pool: advance beyond unread data")
	}
	l.r += n
	if l.r == l.w {
		l.r, l.w = 0, 0
	}
}

// Read consumes up to len(p) unread bytes.
func (l *Lease) Read(p []byte) (int, error) {
	l.mustLive()
	if l.r == l.w {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, l.buf[l.r:l.w])
	l.Advance(n)
	return n, nil
}

// Append copies as much of p as fits and returns the count copied.
func (l *Lease) Append(p []byte) int {
	l.mustLive()
	n := copy(l.buf[l.w:], p)
	l.w += n
	return n
}

// Space returns the writable tail for direct reads; follow with Commit.
func (l *Lease) Space() []byte {
	l.mustLive()
	return l.buf[l.w:]
}

// Commit marks n bytes of Space as written.
func (l *Lease) Commit(n int) {
	l.mustLive()
	if n < 0 || l.w+n > len(l.buf) {
		panic("pool: commit beyond capacity")
	}
	l.w += n
}

// Compact moves unread bytes to the front so the tail can be refilled.
func (l *Lease) Compact() {
	l.mustLive()
	if l.r == 0 {
		return
	}
	n := copy(l.buf, l.buf[l.r:l.w])
	l.r, l.w = 0, n
}

// Reset drops all content.
func (l *Lease) Reset() {
	l.mustLive()
	l.r, l.w = 0, 0
}

// Pooled reports whether the lease is carved from a pool page.
func (l *Lease) Pooled() bool { return l.page != nil }

// Released reports whether Release has already been called.
func (l *Lease) Released() bool { return l.released.Load() }

// Release returns the region to its pool exactly once. Further calls return
// api.ErrDoubleRelease; releasing after the pool was closed returns
// api.ErrBufferPoolClosed.
func (l *Lease) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		return api.ErrDoubleRelease
	}
	if l.pool == nil {
		return nil
	}
	return l.pool.release(l)
}
