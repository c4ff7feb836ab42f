// File: client/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"net"

	"go.uber.org/zap"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/pool"
)

// Option customizes a Client.
type Option func(*Client)

// WithBufferPool shares a pool. The client never closes it.
func WithBufferPool(p *pool.Pool) Option {
	return func(c *Client) { c.pool = p }
}

// WithWorkerGroup shares an executor. The client never closes it.
func WithWorkerGroup(e api.Executor) Option {
	return func(c *Client) { c.workers = e }
}

// WithLocalAddr binds the socket to addr before connecting.
func WithLocalAddr(addr net.Addr) Option {
	return func(c *Client) { c.local = addr }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(m *control.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}
