// File: internal/transport/dial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/momentics/hioload-tcp/control"
)

// Dial connects to address, optionally from local, with opts applied before
// connect. Cancellation and deadlines come from ctx.
func Dial(ctx context.Context, address string, local net.Addr, opts control.SocketOptions) (net.Conn, error) {
	d := net.Dialer{
		LocalAddr: local,
		Control:   socketControl(opts),
	}
	if !opts.KeepAlive {
		d.KeepAlive = -1
	}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if err := ApplyConnOptions(conn, opts); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ApplyConnOptions sets per-connection options on accepted or dialed TCP
// connections. The net package resets TCP_NODELAY after connect, so it is
// applied again here. Non-TCP conns are left untouched.
func ApplyConnOptions(conn net.Conn, opts control.SocketOptions) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}
	if err := tc.SetKeepAlive(opts.KeepAlive); err != nil {
		return fmt.Errorf("set keepalive: %w", err)
	}
	if opts.SendBuffer > 0 {
		if err := tc.SetWriteBuffer(opts.SendBuffer); err != nil {
			return fmt.Errorf("set send buffer: %w", err)
		}
	}
	if opts.RecvBuffer > 0 {
		if err := tc.SetReadBuffer(opts.RecvBuffer); err != nil {
			return fmt.Errorf("set recv buffer: %w", err)
		}
	}
	return nil
}
