// File: pipeline/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded FIFO of sealed leases.

package pipeline

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-tcp/pool"
)

// pending is a fixed-capacity FIFO. It is not safe for concurrent use; the
// owning WriteBuffer guards it.
type pending struct {
	q   *queue.Queue
	cap int
}

func newPending(capacity int) *pending {
	return &pending{q: queue.New(), cap: capacity}
}

func (p *pending) full() bool { return p.q.Length() >= p.cap }

func (p *pending) len() int { return p.q.Length() }

func (p *pending) push(l *pool.Lease) {
	if p.full() {
		panic("pipeline: push on full queue")
	}
	p.q.Add(l)
}

func (p *pending) pop() (*pool.Lease, bool) {
	if p.q.Length() == 0 {
		return nil, false
	}
	return p.q.Remove().(*pool.Lease), true
}
