// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Session: read/decode/dispatch cycle, writer loop and close state machine.

package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/pipeline"
	"github.com/momentics/hioload-tcp/pool"
)

// ErrFrameTooLarge is reported with EventDecodeException when the read
// buffer is full and the decoder still needs more bytes.
var ErrFrameTooLarge = errors.New("frame exceeds read buffer")

// ErrNoProgress is reported when a decoder returns a message without
// consuming input.
var ErrNoProgress = errors.New("decoder returned a message without consuming input")

// Session binds one connection to its buffers and codec.
type Session struct {
	id   string
	conn net.Conn
	opts Options
	log  *zap.Logger

	rbuf *pool.Lease
	wb   *pipeline.WriteBuffer

	status  atomic.Int32 // api.SessionStatus
	flushCh chan struct{}
	kill    chan struct{}
	once    sync.Once // guards terminate

	readerDone chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	attachMu   sync.RWMutex
	attachment any
}

var _ api.Session = (*Session)(nil)

// New builds a session around conn. It leases the read buffer up front;
// on error nothing is retained and the caller still owns conn.
func New(conn net.Conn, opts Options) (*Session, error) {
	opts.normalize()
	if opts.Pool == nil || opts.Executor == nil || opts.Codec == nil || opts.Handler == nil {
		return nil, fmt.Errorf("session: pool, executor, codec and handler are required: %w", api.ErrInvalidArgument)
	}
	rbuf, err := opts.Pool.Get(opts.ReadChunkSize)
	if err != nil {
		return nil, fmt.Errorf("session: read buffer: %w", err)
	}
	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		opts:       opts,
		rbuf:       rbuf,
		flushCh:    make(chan struct{}, 1),
		kill:       make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.log = opts.Logger.With(zap.String("session", s.id), zap.Stringer("remote", conn.RemoteAddr()))
	s.wb = pipeline.New(opts.Pool, opts.Write, s.wake)
	s.status.Store(int32(api.SessionActive))
	return s, nil
}

// Start launches the reader, writer and reaper goroutines. The reader
// delivers EventNewSession before the first read.
func (s *Session) Start() {
	s.opts.Metrics.SessionOpened()
	go s.readLoop()
	go s.writeLoop()
	go s.reap()
}

func (s *Session) ID() string           { return s.id }
func (s *Session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Status reports the close state.
func (s *Session) Status() api.SessionStatus { return api.SessionStatus(s.status.Load()) }

// Done is closed once the session has released everything.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Attachment() any {
	s.attachMu.RLock()
	defer s.attachMu.RUnlock()
	return s.attachment
}

func (s *Session) SetAttachment(v any) {
	s.attachMu.Lock()
	s.attachment = v
	s.attachMu.Unlock()
}

func (s *Session) active() bool { return s.Status() == api.SessionActive }

// Write queues p without flushing.
func (s *Session) Write(p []byte) (int, error) {
	if !s.active() {
		return 0, api.ErrSessionClosed
	}
	n, err := s.wb.Write(p)
	return n, s.mapErr(err)
}

// WriteAndFlush queues p and wakes the writer.
func (s *Session) WriteAndFlush(p []byte) error {
	if !s.active() {
		return api.ErrSessionClosed
	}
	return s.mapErr(s.wb.WriteAndFlush(p))
}

// WriteMessage encodes msg and queues the result as one contiguous unit, so
// messages from concurrent callers never interleave.
func (s *Session) WriteMessage(msg any) error {
	if !s.active() {
		return api.ErrSessionClosed
	}
	var out bytes.Buffer
	if err := s.opts.Codec.Encode(msg, &out); err != nil {
		return fmt.Errorf("session %s: encode: %w", s.id, err)
	}
	if out.Len() == 0 {
		return nil
	}
	if err := s.wb.WriteLease(pool.Wrap(out.Bytes())); err != nil {
		return s.mapErr(err)
	}
	return s.mapErr(s.wb.Flush())
}

// Flush wakes the writer.
func (s *Session) Flush() error {
	if !s.active() {
		return api.ErrSessionClosed
	}
	return s.mapErr(s.wb.Flush())
}

func (s *Session) mapErr(err error) error {
	if errors.Is(err, api.ErrWriteBufferClosed) {
		return api.ErrSessionClosed
	}
	return err
}

// Close starts closing the session. A graceful close stops accepting writes,
// drains the pipeline and then closes the socket; an immediate close drops
// queued data. Repeated calls are no-ops, except that an immediate close
// may cut short a graceful one already draining.
func (s *Session) Close(immediate bool) {
	if immediate {
		s.terminate()
		return
	}
	if !s.status.CompareAndSwap(int32(api.SessionActive), int32(api.SessionClosing)) {
		return
	}
	s.log.Debug("session closing")
	s.event(api.EventSessionClosing, nil)
	s.wake()
}

// terminate closes everything that can block: the pipeline, the socket and
// the kill signal. Leases are released by the reaper once both loops exit.
func (s *Session) terminate() {
	s.once.Do(func() {
		s.status.Store(int32(api.SessionClosed))
		close(s.kill)
		s.wb.Close()
		s.conn.Close()
	})
}

// fail reports err as ev and closes the session immediately. Errors that
// surface after a close started are expected and dropped.
func (s *Session) fail(ev api.Event, err error) {
	if s.active() {
		s.log.Debug("session failed", zap.Stringer("event", ev), zap.Error(err))
		s.event(ev, err)
	}
	s.terminate()
}

// wake nudges the writer without blocking.
func (s *Session) wake() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// event calls the handler, shielding the caller from its panics.
func (s *Session) event(ev api.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("state handler panicked", zap.Stringer("event", ev), zap.Any("panic", r))
		}
	}()
	s.opts.Handler.StateEvent(s, ev, err)
}

// dispatch runs fn on the worker group and waits for it, so that at most
// one callback per session is in flight.
func (s *Session) dispatch(fn func()) error {
	done := make(chan struct{})
	if err := s.opts.Executor.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	<-done
	return nil
}

func (s *Session) readLoop() {
	defer close(s.readerDone)

	if err := s.dispatch(func() { s.event(api.EventNewSession, nil) }); err != nil {
		s.fail(api.EventInputException, err)
		return
	}

	for {
		if s.rbuf.Writable() == 0 {
			s.rbuf.Compact()
			if s.rbuf.Writable() == 0 {
				s.opts.Metrics.DecodeError()
				s.fail(api.EventDecodeException, ErrFrameTooLarge)
				return
			}
		}
		if s.opts.ReadTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		n, err := s.conn.Read(s.rbuf.Space())
		if n > 0 {
			s.rbuf.Commit(n)
			s.opts.Metrics.Read(n)
			var decErr error
			if derr := s.dispatch(func() { decErr = s.decode() }); derr != nil {
				s.fail(api.EventInputException, derr)
				return
			}
			if decErr != nil {
				s.opts.Metrics.DecodeError()
				s.fail(api.EventDecodeException, decErr)
				return
			}
		}
		if err != nil {
			switch {
			case s.Status() == api.SessionClosing:
				// the writer finishes the drain
			case errors.Is(err, io.EOF):
				s.event(api.EventInputShutdown, nil)
				s.Close(false)
			default:
				s.fail(api.EventInputException, err)
			}
			return
		}
	}
}

// decode runs on a worker. It feeds the read buffer to the decoder until
// it asks for more bytes, then compacts what is left.
func (s *Session) decode() error {
	for s.rbuf.Len() > 0 && s.Status() != api.SessionClosed {
		before := s.rbuf.Len()
		msg, err := s.opts.Codec.Decode(s.rbuf, s)
		if err != nil {
			return err
		}
		if msg == nil {
			break
		}
		if s.rbuf.Len() == before {
			return ErrNoProgress
		}
		s.process(msg)
	}
	s.rbuf.Compact()
	return nil
}

func (s *Session) process(msg any) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", r)
			}
			s.log.Warn("processor panicked", zap.Error(err))
			s.event(api.EventProcessException, err)
		}
	}()
	s.opts.Handler.Process(s, msg)
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	bufs := make(net.Buffers, 0, s.opts.WriteBatch)
	for {
		select {
		case <-s.flushCh:
		case <-s.kill:
			return
		}
		for {
			batch := s.wb.PollBatch(s.opts.WriteBatch)
			if len(batch) == 0 {
				break
			}
			bufs = bufs[:0]
			for _, l := range batch {
				bufs = append(bufs, l.Bytes())
			}
			if s.opts.WriteTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			}
			iov := bufs // WriteTo consumes its receiver
			n, err := iov.WriteTo(s.conn)
			for _, l := range batch {
				l.Release()
			}
			s.opts.Metrics.Written(n)
			if err != nil {
				s.fail(api.EventOutputException, err)
				return
			}
		}
		if s.Status() == api.SessionClosing && !s.wb.HasPendingData() {
			s.terminate()
			return
		}
	}
}

// reap waits for both loops, releases the buffers and delivers
// EventSessionClosed.
func (s *Session) reap() {
	<-s.readerDone
	<-s.writerDone
	s.terminate()

	if err := s.rbuf.Release(); err != nil && !errors.Is(err, api.ErrBufferPoolClosed) {
		s.log.Warn("read buffer release", zap.Error(err))
	}
	s.opts.Metrics.Stalled(s.wb.Stalls())
	s.opts.Metrics.SessionClosed()

	closed := func() { s.event(api.EventSessionClosed, nil) }
	if err := s.dispatch(closed); err != nil {
		closed()
	}
	s.log.Debug("session closed")
	if s.opts.OnClosed != nil {
		s.opts.OnClosed(s)
	}
	close(s.done)
}
