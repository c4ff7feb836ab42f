// File: core/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WorkerGroup runs I/O completion callbacks on a fixed set of goroutines.
// Workers carry pprof labels ("group", "worker") derived from the group name
// and their index, so every group numbers its own workers.

package concurrency

import (
	"context"
	"fmt"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-tcp/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc = func()

// Option customizes a WorkerGroup.
type Option func(*WorkerGroup)

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(l *zap.Logger) Option {
	return func(g *WorkerGroup) { g.log = l }
}

// WithQueueSize overrides the task backlog (default 64 per worker).
func WithQueueSize(n int) Option {
	return func(g *WorkerGroup) {
		if n > 0 {
			g.queueSize = n
		}
	}
}

// WithCPUAffinity pins worker i to the i-th allowed CPU, round-robin.
// Pinning failures are logged and the worker runs unpinned.
func WithCPUAffinity(enabled bool) Option {
	return func(g *WorkerGroup) { g.pin = enabled }
}

// WorkerGroup manages a fixed pool of worker goroutines.
type WorkerGroup struct {
	name      string
	size      int
	queueSize int
	log       *zap.Logger
	pin       bool

	tasks   chan TaskFunc
	closeCh chan struct{} // unblocks pending Submit calls
	stopCh  chan struct{} // tells workers to drain and exit
	mu      sync.RWMutex  // Submit holds R while sending; Close takes W as a barrier
	closed  atomic.Bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

var _ api.Executor = (*WorkerGroup)(nil)

// NewWorkerGroup starts size workers named "<name>-<index>".
func NewWorkerGroup(name string, size int, opts ...Option) (*WorkerGroup, error) {
	if size <= 0 {
		return nil, fmt.Errorf("worker group %q: %d workers: %w", name, size, ErrInvalidWorkerCount)
	}
	g := &WorkerGroup{
		name:      name,
		size:      size,
		queueSize: size * 64,
		log:       zap.NewNop(),
		closeCh:   make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.tasks = make(chan TaskFunc, g.queueSize)
	var cpus []int
	if g.pin {
		cpus = allowedCPUs()
	}
	for i := 0; i < size; i++ {
		g.wg.Add(1)
		cpu := -1
		if len(cpus) > 0 {
			cpu = cpus[i%len(cpus)]
		}
		labels := pprof.Labels("group", name, "worker", strconv.Itoa(i))
		go pprof.Do(context.Background(), labels, func(context.Context) { g.run(cpu) })
	}
	return g, nil
}

// Submit enqueues a task, blocking while the backlog is full. It returns
// ErrExecutorClosed once Close has been called; a task accepted before that
// still runs.
func (g *WorkerGroup) Submit(task TaskFunc) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case g.tasks <- task:
		g.submitted.Add(1)
		return nil
	case <-g.closeCh:
		return ErrExecutorClosed
	}
}

// NumWorkers returns the worker count.
func (g *WorkerGroup) NumWorkers() int { return g.size }

// Name returns the group name.
func (g *WorkerGroup) Name() string { return g.name }

// Closed reports whether Close was called.
func (g *WorkerGroup) Closed() bool { return g.closed.Load() }

// Close stops accepting tasks. Workers finish what is already queued and
// exit; Close does not wait for them, so it is safe to call from a task.
func (g *WorkerGroup) Close() {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	close(g.closeCh)
	g.mu.Lock()
	// no Submit is mid-send past this point
	g.mu.Unlock()
	close(g.stopCh)
}

// Shutdown closes the group and waits for the workers until ctx is done.
func (g *WorkerGroup) Shutdown(ctx context.Context) error {
	g.Close()
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker group %q: %w", g.name, ctx.Err())
	}
}

// Stats returns basic executor metrics.
func (g *WorkerGroup) Stats() map[string]int64 {
	return map[string]int64{
		"submitted_tasks": g.submitted.Load(),
		"completed_tasks": g.completed.Load(),
		"pending_tasks":   g.submitted.Load() - g.completed.Load(),
		"panics":          g.panics.Load(),
		"num_workers":     int64(g.size),
	}
}

func (g *WorkerGroup) run(cpu int) {
	defer g.wg.Done()
	if cpu >= 0 {
		if err := pinWorker(cpu); err != nil {
			g.log.Warn("worker not pinned", zap.String("group", g.name), zap.Error(err))
		}
	}
	for {
		select {
		case task := <-g.tasks:
			g.execute(task)
		case <-g.stopCh:
			for {
				select {
				case task := <-g.tasks:
					g.execute(task)
				default:
					return
				}
			}
		}
	}
}

// execute runs the task, recovering from panics to keep the worker alive.
func (g *WorkerGroup) execute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			g.panics.Add(1)
			g.log.Error("worker task panicked", zap.String("group", g.name), zap.Any("panic", r))
		}
		g.completed.Add(1)
	}()
	task()
}
