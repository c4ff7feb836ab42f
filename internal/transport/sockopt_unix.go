//go:build unix

// File: internal/transport/sockopt_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-tcp/control"
)

// setOptions applies opts to a raw socket descriptor.
func setOptions(fd int, opts control.SocketOptions) error {
	set := func(level, name, value int, what string) error {
		if err := unix.SetsockoptInt(fd, level, name, value); err != nil {
			return fmt.Errorf("setsockopt %s: %w", what, err)
		}
		return nil
	}
	if opts.ReuseAddr {
		if err := set(unix.SOL_SOCKET, unix.SO_REUSEADDR, 1, "SO_REUSEADDR"); err != nil {
			return err
		}
	}
	if opts.SendBuffer > 0 {
		if err := set(unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBuffer, "SO_SNDBUF"); err != nil {
			return err
		}
	}
	if opts.RecvBuffer > 0 {
		if err := set(unix.SOL_SOCKET, unix.SO_RCVBUF, opts.RecvBuffer, "SO_RCVBUF"); err != nil {
			return err
		}
	}
	if err := set(unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolInt(opts.KeepAlive), "SO_KEEPALIVE"); err != nil {
		return err
	}
	return set(unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(opts.NoDelay), "TCP_NODELAY")
}

// socketControl adapts setOptions to net.Dialer/net.ListenConfig.Control.
func socketControl(opts control.SocketOptions) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var optErr error
		if err := c.Control(func(fd uintptr) {
			optErr = setOptions(int(fd), opts)
		}); err != nil {
			return err
		}
		return optErr
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
