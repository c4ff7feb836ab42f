// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/pool"
)

// Option customizes server initialization.
type Option func(*Server)

// WithBufferPool shares an existing pool. The server never closes it.
func WithBufferPool(p *pool.Pool) Option {
	return func(s *Server) {
		s.pool = p
	}
}

// WithWorkerGroup shares an existing executor. The server never closes it.
func WithWorkerGroup(e api.Executor) Option {
	return func(s *Server) {
		s.workers = e
	}
}

// WithAdmission appends an admission hook. Hooks run in FIFO order on every
// accepted connection; the first error rejects it.
func WithAdmission(fn api.AdmissionFunc) Option {
	return func(s *Server) {
		s.admission = append(s.admission, fn)
	}
}

// WithMaxConnections rejects connections beyond n live sessions.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		s.admission = append(s.admission, func(c net.Conn) (net.Conn, error) {
			if live := s.live.Load(); n > 0 && live >= int64(n) {
				return nil, fmt.Errorf("%d live sessions, limit %d: %w", live, n, api.ErrResourceExhausted)
			}
			return c, nil
		})
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}
