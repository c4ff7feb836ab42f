// File: pipeline/writebuffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipeline

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pool"
)

// Allocator supplies chunk leases. *pool.Pool satisfies it.
type Allocator interface {
	Get(size int) (*pool.Lease, error)
}

// Config sizes a WriteBuffer.
type Config struct {
	ChunkSize int // minimum bytes per chunk
	Capacity  int // sealed chunks queued before producers block
}

// DefaultConfig returns 4 KiB chunks and a queue of 16.
func DefaultConfig() Config {
	return Config{ChunkSize: 4096, Capacity: 16}
}

// WriteBuffer orders and chunks outbound bytes for one connection.
type WriteBuffer struct {
	alloc   Allocator
	chunk   int
	onFlush func()

	mu      sync.Mutex
	notFull *sync.Cond // signalled when Poll frees a slot
	turn    *sync.Cond // signalled when a write gives up the pipeline
	busy    bool       // a write currently owns the pipeline
	items   *pending
	current *pool.Lease // in-progress chunk
	closed  bool

	stalls atomic.Int64
}

var _ io.Writer = (*WriteBuffer)(nil)

// New builds a WriteBuffer. onFlush is called, without blocking, whenever the
// network layer should drain; it may be nil.
func New(alloc Allocator, cfg Config, onFlush func()) *WriteBuffer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if onFlush == nil {
		onFlush = func() {}
	}
	b := &WriteBuffer{
		alloc:   alloc,
		chunk:   cfg.ChunkSize,
		onFlush: onFlush,
		items:   newPending(cfg.Capacity),
	}
	b.notFull = sync.NewCond(&b.mu)
	b.turn = sync.NewCond(&b.mu)
	return b
}

// acquire waits for the pipeline's turn. Caller holds mu.
func (b *WriteBuffer) acquire() error {
	for b.busy && !b.closed {
		b.turn.Wait()
	}
	if b.closed {
		return api.ErrWriteBufferClosed
	}
	b.busy = true
	return nil
}

// yield gives the turn back. Caller holds mu.
func (b *WriteBuffer) yield() {
	b.busy = false
	b.turn.Signal()
}

// Write appends p, sealing and queueing chunks as they fill. It returns
// len(p) or an error; on error the bytes already queued stay queued.
func (b *WriteBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.acquire(); err != nil {
		return 0, err
	}
	defer b.yield()

	written := 0
	for written < len(p) {
		if b.current == nil {
			l, err := b.alloc.Get(max(b.chunk, len(p)-written))
			if err != nil {
				return written, err
			}
			b.current = l
		}
		written += b.current.Append(p[written:])
		if b.current.Writable() == 0 {
			sealed := b.current
			b.current = nil
			if err := b.putLocked(sealed); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// WriteString is Write for strings.
func (b *WriteBuffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// WriteByte appends a single byte.
func (b *WriteBuffer) WriteByte(c byte) error {
	_, err := b.Write([]byte{c})
	return err
}

// WriteAndFlush appends p and signals the network layer before returning.
func (b *WriteBuffer) WriteAndFlush(p []byte) error {
	if _, err := b.Write(p); err != nil {
		return err
	}
	return b.Flush()
}

// WriteLease hands an existing lease to the pipeline, which takes ownership.
// Small leases are copied into the in-progress chunk and released at once;
// otherwise the in-progress chunk is queued and l becomes the new one.
func (b *WriteBuffer) WriteLease(l *pool.Lease) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.acquire(); err != nil {
		l.Release()
		return err
	}
	defer b.yield()

	if l.Len() == 0 {
		return l.Release()
	}
	if b.current != nil && b.current.Writable() > l.Len() {
		b.current.Append(l.Bytes())
		return l.Release()
	}
	if err := b.sealLocked(); err != nil {
		l.Release()
		return err
	}
	if l.Writable() == 0 {
		return b.putLocked(l)
	}
	b.current = l
	return nil
}

// Put queues a fully formed chunk after anything written so far, blocking
// while the queue is full. On a closed pipeline l is released and
// api.ErrWriteBufferClosed returned.
func (b *WriteBuffer) Put(l *pool.Lease) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.acquire(); err != nil {
		l.Release()
		return err
	}
	defer b.yield()
	if err := b.sealLocked(); err != nil {
		l.Release()
		return err
	}
	return b.putLocked(l)
}

// sealLocked queues the in-progress chunk if it holds data.
func (b *WriteBuffer) sealLocked() error {
	c := b.current
	if c == nil {
		return nil
	}
	b.current = nil
	if c.Len() == 0 {
		return c.Release()
	}
	return b.putLocked(c)
}

// putLocked enqueues l, waiting for space. Caller holds mu and the turn.
func (b *WriteBuffer) putLocked(l *pool.Lease) error {
	for b.items.full() && !b.closed {
		b.stalls.Add(1)
		b.onFlush()
		b.notFull.Wait()
	}
	if b.closed {
		l.Release()
		return api.ErrWriteBufferClosed
	}
	b.items.push(l)
	return nil
}

// Flush asks the network layer to drain queued and in-progress data.
func (b *WriteBuffer) Flush() error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return api.ErrWriteBufferClosed
	}
	b.onFlush()
	return nil
}

// Poll removes the oldest sealed chunk. With nothing queued it seals and
// returns the in-progress chunk if that holds data, else nil. The caller owns
// the returned lease and must release it after transmission.
func (b *WriteBuffer) Poll() *pool.Lease {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.items.pop(); ok {
		b.notFull.Signal()
		return l
	}
	return b.takeCurrentLocked()
}

// PollBatch is Poll repeated up to n times, stopping at the first miss.
func (b *WriteBuffer) PollBatch(n int) []*pool.Lease {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*pool.Lease
	for len(out) < n {
		l, ok := b.items.pop()
		if !ok {
			break
		}
		out = append(out, l)
	}
	if len(out) > 0 {
		b.notFull.Broadcast()
	}
	if len(out) < n && b.items.len() == 0 {
		if l := b.takeCurrentLocked(); l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (b *WriteBuffer) takeCurrentLocked() *pool.Lease {
	if b.current == nil || b.current.Len() == 0 {
		return nil
	}
	l := b.current
	b.current = nil
	return l
}

// HasPendingData reports whether queued or in-progress bytes remain.
func (b *WriteBuffer) HasPendingData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.len() > 0 || (b.current != nil && b.current.Len() > 0)
}

// Queued returns the number of sealed chunks waiting.
func (b *WriteBuffer) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.len()
}

// Stalls counts how often a producer waited on a full queue.
func (b *WriteBuffer) Stalls() int64 { return b.stalls.Load() }

// Closed reports whether Close was called.
func (b *WriteBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close marks the pipeline closed, releases every queued chunk and the
// in-progress one, and wakes blocked producers. Chunks already handed out by
// Poll stay with their owner. Data still queued at this point is discarded;
// drain with Poll first for a graceful close.
func (b *WriteBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.current != nil {
		b.current.Release()
		b.current = nil
	}
	for {
		l, ok := b.items.pop()
		if !ok {
			break
		}
		l.Release()
	}
	b.notFull.Broadcast()
	b.turn.Broadcast()
	b.mu.Unlock()

	b.onFlush()
	return nil
}
