// File: client/client.go
// Package client opens one outbound TCP connection and runs it as a session.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/core/concurrency"
	"github.com/momentics/hioload-tcp/internal/session"
	"github.com/momentics/hioload-tcp/internal/transport"
	"github.com/momentics/hioload-tcp/pool"
)

// State is the client lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	StateConnectFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// Client drives a single connection. It is not reusable: after Shutdown or
// a failed Connect, build a new one.
type Client struct {
	cfg     control.Config
	codec   api.Codec
	handler api.Processor
	local   net.Addr
	log     *zap.Logger
	metrics *control.Metrics

	pool       *pool.Pool
	ownPool    bool
	workers    api.Executor
	ownWorkers *concurrency.WorkerGroup
	release    sync.Once

	mu    sync.Mutex
	state State
	sess  *session.Session
}

// New builds a client for cfg.Address(). cfg is copied.
func New(cfg control.Config, codec api.Codec, handler api.Processor, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		codec:   codec,
		handler: handler,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.Named("client")
	return c
}

// State reports the lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the live session, or nil when not connected.
func (c *Client) Session() api.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess
}

// Connect dials the server and starts the session. It is bounded by ctx and
// by ConnectTimeout. On failure the owned pool and workers are released and
// the client ends in StateConnectFailed.
func (c *Client) Connect(ctx context.Context) (api.Session, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("client %s: %w", st, api.ErrAlreadyRunning)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	sess, err := c.connect(ctx)
	if err != nil {
		c.releaseOwned()
		c.setState(StateConnectFailed)
		c.log.Warn("connect failed", zap.String("addr", c.cfg.Address()), zap.Error(err))
		return nil, err
	}

	c.mu.Lock()
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Debug("connected", zap.String("session", sess.ID()), zap.Stringer("local", sess.LocalAddr()))
	sess.Start()
	return sess, nil
}

func (c *Client) connect(ctx context.Context) (*session.Session, error) {
	if c.codec == nil || c.handler == nil {
		return nil, fmt.Errorf("client: codec and processor are required: %w", api.ErrInvalidArgument)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.pool == nil {
		p, err := pool.New(c.cfg.Pool)
		if err != nil {
			return nil, fmt.Errorf("client: buffer pool: %w", err)
		}
		c.pool, c.ownPool = p, true
	}
	if c.workers == nil {
		wg, err := concurrency.NewWorkerGroup("hioload-client", c.cfg.Workers, concurrency.WithLogger(c.log), concurrency.WithCPUAffinity(c.cfg.PinWorkers))
		if err != nil {
			return nil, fmt.Errorf("client: workers: %w", err)
		}
		c.workers, c.ownWorkers = wg, wg
	}

	dctx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	conn, err := transport.Dial(dctx, c.cfg.Address(), c.local, c.cfg.Socket)
	if err != nil {
		var ne net.Error
		if errors.Is(dctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil, fmt.Errorf("client connect: %w: %w", api.ErrOperationTimeout, err)
		}
		return nil, fmt.Errorf("client connect: %w", err)
	}

	opts := session.OptionsFromConfig(c.cfg)
	opts.Pool = c.pool
	opts.Executor = c.workers
	opts.Codec = c.codec
	opts.Handler = c.handler
	opts.Logger = c.log
	opts.Metrics = c.metrics
	opts.OnClosed = c.sessionClosed

	sess, err := session.New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// ConnectAsync runs Connect on a new goroutine and reports to fn.
func (c *Client) ConnectAsync(ctx context.Context, fn func(api.Session, error)) {
	go func() {
		s, err := c.Connect(ctx)
		if fn != nil {
			fn(s, err)
		}
	}()
}

// sessionClosed runs once the session has released its buffers, whether
// the peer, an error or Shutdown ended it.
func (c *Client) sessionClosed(*session.Session) {
	c.releaseOwned()
	c.setState(StateClosed)
}

// Shutdown closes the session gracefully, forcing it after ShutdownTimeout,
// then releases the owned workers and pool.
func (c *Client) Shutdown() {
	c.mu.Lock()
	sess := c.sess
	switch c.state {
	case StateConnected:
		c.state = StateClosing
	case StateIdle:
		c.state = StateClosed
	}
	c.mu.Unlock()

	if sess != nil {
		sess.Close(false)
		timeout := c.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		select {
		case <-sess.Done():
		case <-time.After(timeout):
			c.log.Warn("forcing session closed", zap.String("session", sess.ID()))
			sess.Close(true)
			<-sess.Done()
		}
	}
	c.releaseOwned()
}

func (c *Client) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *Client) releaseOwned() {
	c.release.Do(func() {
		if c.ownWorkers != nil {
			// called from session callbacks too, so never wait here
			c.ownWorkers.Close()
		}
		if c.ownPool {
			c.pool.Close()
		}
	})
}
