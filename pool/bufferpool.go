// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
//
// Page-backed BufferPool with per-page locking and a heap fallback.

package pool

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
)

// Policy selects what Get does when no page has room.
type Policy int

const (
	// PolicyGrow serves the request from a dedicated heap region.
	PolicyGrow Policy = iota
	// PolicyFail refuses the request with api.ErrPoolExhausted.
	PolicyFail
)

func (p Policy) String() string {
	switch p {
	case PolicyGrow:
		return "grow"
	case PolicyFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Config describes the page layout of a Pool.
type Config struct {
	PageSize  int    // bytes per page
	PageCount int    // pages allocated up front
	Alignment int    // region granularity inside a page
	Policy    Policy // behaviour when pages are full
	Disabled  bool   // serve every request from the heap
}

// DefaultConfig returns one 1 MiB page per CPU with 64-byte regions.
func DefaultConfig() Config {
	return Config{
		PageSize:  1 << 20,
		PageCount: runtime.NumCPU(),
		Alignment: 64,
		Policy:    PolicyGrow,
	}
}

// Pool hands out Leases carved from its pages.
type Pool struct {
	cfg    Config
	pages  []*page
	next   atomic.Uint32
	closed atomic.Bool

	totalAlloc atomic.Int64
	totalFree  atomic.Int64
	inUseBytes atomic.Int64
	oversized  atomic.Int64
	exhausted  atomic.Int64
}

// New allocates the pages described by cfg.
func New(cfg Config) (*Pool, error) {
	if cfg.Disabled {
		return &Pool{cfg: cfg}, nil
	}
	if cfg.PageSize <= 0 || cfg.PageCount <= 0 {
		return nil, fmt.Errorf("pool: page size %d, page count %d: %w",
			cfg.PageSize, cfg.PageCount, api.ErrInvalidArgument)
	}
	if cfg.Alignment <= 0 {
		cfg.Alignment = 1
	}
	p := &Pool{cfg: cfg, pages: make([]*page, cfg.PageCount)}
	for i := range p.pages {
		p.pages[i] = newPage(i, cfg.PageSize)
	}
	return p, nil
}

// NewHeap returns a disabled pool: every lease is a fresh heap buffer.
func NewHeap() *Pool {
	p, _ := New(Config{Disabled: true})
	return p
}

// Config returns the configuration the pool was built with.
func (p *Pool) Config() Config { return p.cfg }

// Get returns a lease over exactly size usable bytes.
func (p *Pool) Get(size int) (*Lease, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: lease size %d: %w", size, api.ErrInvalidArgument)
	}
	if p.closed.Load() {
		return nil, api.ErrBufferPoolClosed
	}
	if p.cfg.Disabled {
		return p.heapLease(size), nil
	}

	region := roundUp(size, p.cfg.Alignment)
	if region <= p.cfg.PageSize {
		n := uint32(len(p.pages))
		start := p.next.Add(1)
		for i := uint32(0); i < n; i++ {
			pg := p.pages[(start+i)%n]
			if pg.freeBytes.Load() < int64(region) {
				continue
			}
			if off, ok := pg.alloc(region); ok {
				p.totalAlloc.Add(1)
				p.inUseBytes.Add(int64(region))
				return &Lease{
					pool:   p,
					page:   pg,
					off:    off,
					region: region,
					buf:    pg.data[off : off+size : off+size],
				}, nil
			}
		}
	}

	if p.cfg.Policy == PolicyFail {
		p.exhausted.Add(1)
		return nil, fmt.Errorf("pool: %d bytes: %w", size, api.ErrPoolExhausted)
	}
	p.oversized.Add(1)
	return p.heapLease(size), nil
}

func (p *Pool) heapLease(size int) *Lease {
	p.totalAlloc.Add(1)
	p.inUseBytes.Add(int64(size))
	return &Lease{pool: p, region: size, buf: make([]byte, size)}
}

// Put is shorthand for l.Release().
func (p *Pool) Put(l *Lease) error {
	return l.Release()
}

func (p *Pool) release(l *Lease) error {
	p.totalFree.Add(1)
	p.inUseBytes.Add(-int64(l.region))
	if l.page == nil {
		return nil
	}
	if p.closed.Load() {
		return api.ErrBufferPoolClosed
	}
	l.page.release(l.off, l.region)
	return nil
}

// Close tears the pool down. Outstanding leases stay readable by their owners
// but their Release reports api.ErrBufferPoolClosed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return api.ErrBufferPoolClosed
	}
	return nil
}

// Closed reports whether Close was called.
func (p *Pool) Closed() bool { return p.closed.Load() }

// Stats exposes allocation counters.
func (p *Pool) Stats() api.BufferPoolStats {
	alloc := p.totalAlloc.Load()
	free := p.totalFree.Load()
	return api.BufferPoolStats{
		TotalAlloc: alloc,
		TotalFree:  free,
		InUse:      alloc - free,
		InUseBytes: p.inUseBytes.Load(),
		Oversized:  p.oversized.Load(),
		Exhausted:  p.exhausted.Load(),
		Pages:      len(p.pages),
	}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
