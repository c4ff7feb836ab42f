// File: server/server.go
// Package server accepts TCP connections and turns them into sessions.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/core/concurrency"
	"github.com/momentics/hioload-tcp/internal/session"
	"github.com/momentics/hioload-tcp/internal/transport"
	"github.com/momentics/hioload-tcp/pool"
)

// State is the server lifecycle position.
type State int32

const (
	StateCreated State = iota
	StateListening
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateListening:
		return "listening"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// forceGrace bounds the wait for sessions after a forced close.
const forceGrace = 5 * time.Second

// Server owns a listener, its sessions and, unless shared, the buffer pool
// and worker group serving them.
type Server struct {
	cfg       control.Config
	codec     api.Codec
	handler   api.Processor
	log       *zap.Logger
	metrics   *control.Metrics
	admission []api.AdmissionFunc

	pool       *pool.Pool
	ownPool    bool
	workers    api.Executor
	ownWorkers *concurrency.WorkerGroup

	mu         sync.Mutex
	state      State
	ln         net.Listener
	acceptDone chan struct{}

	sessions *session.Registry
	live     atomic.Int64
	wg       sync.WaitGroup // one per registered session
	probes   *control.DebugProbes
}

// New builds a server. cfg is copied; nothing is opened until Start.
func New(cfg control.Config, codec api.Codec, handler api.Processor, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		codec:    codec,
		handler:  handler,
		log:      zap.NewNop(),
		sessions: session.NewRegistry(64),
		probes:   control.NewDebugProbes(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("server")
	return s
}

// Start validates the configuration, prepares the pool and workers, binds
// the listener and begins accepting. Any failure leaves nothing running.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return fmt.Errorf("server %s: %w", s.state, api.ErrAlreadyRunning)
	}
	if s.codec == nil || s.handler == nil {
		return fmt.Errorf("server: codec and processor are required: %w", api.ErrInvalidArgument)
	}
	if s.cfg.Workers == 1 {
		// accept hand-off and decode must not starve each other
		s.cfg.Workers = 2
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	if s.pool == nil {
		p, err := pool.New(s.cfg.Pool)
		if err != nil {
			return fmt.Errorf("server: buffer pool: %w", err)
		}
		s.pool, s.ownPool = p, true
	}
	if s.workers == nil {
		wg, err := concurrency.NewWorkerGroup("hioload-server", s.cfg.Workers, concurrency.WithLogger(s.log), concurrency.WithCPUAffinity(s.cfg.PinWorkers))
		if err != nil {
			s.abortStart()
			return fmt.Errorf("server: workers: %w", err)
		}
		s.workers, s.ownWorkers = wg, wg
	}

	ln, err := transport.Listen(context.Background(), s.cfg.Address(), s.cfg.Backlog, s.cfg.Socket)
	if err != nil {
		s.abortStart()
		return api.NewError(api.ErrCodeInternal, "server listen").
			Wrap(err).
			WithContext("addr", s.cfg.Address())
	}
	s.ln = ln
	s.acceptDone = make(chan struct{})
	s.state = StateListening
	s.registerProbes()

	s.log.Info("listening", zap.Stringer("addr", ln.Addr()), zap.Int("workers", s.workers.NumWorkers()))
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// State reports the lifecycle position.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sessions counts live sessions.
func (s *Server) Sessions() int { return s.sessions.Len() }

// BufferPool returns the pool in use, or nil before Start when none was
// supplied.
func (s *Server) BufferPool() *pool.Pool { return s.pool }

// Probes exposes the debug probe registry.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

func (s *Server) registerProbes() {
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("server.state", func() any { return s.State().String() })
	s.probes.RegisterProbe("server.sessions", func() any { return s.Sessions() })
	s.probes.RegisterProbe("server.pool", func() any { return s.pool.Stats() })
	if s.ownWorkers != nil {
		s.probes.RegisterProbe("server.workers", func() any { return s.ownWorkers.Stats() })
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		// the loop goes straight back to Accept; setup runs on a worker
		if err := s.workers.Submit(func() { s.setup(conn) }); err != nil {
			s.log.Warn("dropping connection", zap.Error(err))
			conn.Close()
		}
	}
}

func (s *Server) setup(conn net.Conn) {
	if err := transport.ApplyConnOptions(conn, s.cfg.Socket); err != nil {
		s.log.Warn("socket options", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
	}
	for _, admit := range s.admission {
		next, err := admit(conn)
		if err != nil {
			s.reject(conn, err)
			return
		}
		conn = next
	}

	opts := session.OptionsFromConfig(s.cfg)
	opts.Pool = s.pool
	opts.Executor = s.workers
	opts.Codec = s.codec
	opts.Handler = s.handler
	opts.Logger = s.log
	opts.Metrics = s.metrics
	opts.OnClosed = s.forget

	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		conn.Close()
		return
	}
	sess, err := session.New(conn, opts)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("session setup failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		conn.Close()
		return
	}
	s.sessions.Add(sess)
	s.live.Add(1)
	s.wg.Add(1)
	s.mu.Unlock()

	sess.Start()
}

func (s *Server) reject(conn net.Conn, cause error) {
	s.metrics.Rejected()
	s.log.Debug("connection rejected", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(cause))
	conn.Close()
	err := fmt.Errorf("%w: %w", api.ErrAcceptRejected, cause)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("state handler panicked", zap.Any("panic", r))
		}
	}()
	s.handler.StateEvent(nil, api.EventRejectAccept, err)
}

func (s *Server) forget(sess *session.Session) {
	s.sessions.Delete(sess.ID())
	s.live.Add(-1)
	s.wg.Done()
}

// Shutdown stops accepting, closes sessions gracefully and waits for them
// until ctx ends or ShutdownTimeout elapses, then forces the rest closed.
// Owned workers and pool are released last; shared ones are left alone.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateShutdown
	ln := s.ln
	s.mu.Unlock()
	if prev != StateListening {
		return nil
	}

	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	ln.Close()
	<-s.acceptDone

	s.sessions.Range(func(sess *session.Session) { sess.Close(false) })

	var result error
	if err := s.waitSessions(ctx); err != nil {
		s.log.Warn("forcing sessions closed", zap.Int("remaining", s.Sessions()))
		s.sessions.Range(func(sess *session.Session) { sess.Close(true) })
		grace, cancel := context.WithTimeout(context.Background(), forceGrace)
		if werr := s.waitSessions(grace); werr != nil {
			s.log.Error("sessions did not close", zap.Int("remaining", s.Sessions()))
		}
		cancel()
		result = fmt.Errorf("server shutdown: %w: %w", api.ErrOperationTimeout, err)
	}

	grace, cancel := context.WithTimeout(context.Background(), forceGrace)
	defer cancel()
	s.releaseOwned(grace)
	s.log.Info("shut down")
	return result
}

func (s *Server) waitSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abortStart undoes a failed Start so it can be retried.
func (s *Server) abortStart() {
	s.releaseOwned(context.Background())
	if s.ownWorkers != nil {
		s.workers, s.ownWorkers = nil, nil
	}
	if s.ownPool {
		s.pool, s.ownPool = nil, false
	}
}

func (s *Server) releaseOwned(ctx context.Context) {
	if s.ownWorkers != nil {
		if err := s.ownWorkers.Shutdown(ctx); err != nil {
			s.log.Warn("workers did not stop", zap.Error(err))
		}
	}
	if s.ownPool {
		s.pool.Close()
	}
}
