//go:build !unix

// File: internal/transport/sockopt_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-unix platforms rely on ApplyConnOptions after accept/connect.

package transport

import (
	"syscall"

	"github.com/momentics/hioload-tcp/control"
)

func socketControl(control.SocketOptions) func(network, address string, c syscall.RawConn) error {
	return nil
}
