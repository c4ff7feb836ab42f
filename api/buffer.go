// Package api
// Author: momentics <momentics@gmail.com>
//
// Pooled memory leases handed to decoders and the outbound write pipeline.
//
// A Buffer has independent read and write cursors. Writers append behind the
// write cursor, readers consume from the read cursor. Once Release is called
// the buffer belongs to its pool again and must not be touched.

package api

// Buffer describes a leased memory region with read/write cursors.
type Buffer interface {
	// Bytes returns the unread window [read cursor, write cursor).
	Bytes() []byte

	// Len returns the number of unread bytes.
	Len() int

	// Advance moves the read cursor forward by n bytes.
	Advance(n int)

	// Read consumes up to len(p) unread bytes.
	Read(p []byte) (int, error)

	// Cap returns the usable capacity of the lease.
	Cap() int

	// Writable returns the free space behind the write cursor.
	Writable() int

	// Release returns the region to its pool. A second call reports
	// ErrDoubleRelease instead of freeing the region again.
	Release() error
}

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	TotalAlloc int64 // leases handed out
	TotalFree  int64 // leases returned
	InUse      int64 // leases currently outstanding
	InUseBytes int64 // bytes reserved by outstanding leases
	Oversized  int64 // heap leases issued because no page could serve the request
	Exhausted  int64 // requests refused under the fail policy
	Pages      int   // page count
}
