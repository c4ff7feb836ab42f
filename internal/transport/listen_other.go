//go:build !linux

// File: internal/transport/listen_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"net"

	"github.com/momentics/hioload-tcp/control"
)

// Listen opens a TCP listener on address. The backlog is left to the OS on
// this platform.
func Listen(ctx context.Context, address string, _ int, opts control.SocketOptions) (net.Listener, error) {
	lc := net.ListenConfig{Control: socketControl(opts)}
	return lc.Listen(ctx, "tcp", address)
}
