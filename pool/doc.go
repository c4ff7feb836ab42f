// Package pool
// Author: momentics <momentics@gmail.com>
//
// Page-backed buffer pool for hioload-tcp.
//
// A Pool owns a fixed set of large pages allocated once at construction.
// Get carves a Lease out of the first page with a contiguous free extent
// large enough for the request; Release gives the extent back and coalesces
// it with its neighbours. Every page has its own lock, and Get starts its
// search at a rotating page index, so concurrent sessions rarely contend on
// the same page.
//
// Requests no page can hold are served from the heap (PolicyGrow) or refused
// (PolicyFail). A disabled pool serves every request from the heap.
// See bufferpool.go, page.go and lease.go for implementation details.
package pool
