// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket plumbing for hioload-tcp: listeners with an explicit accept
// backlog, dialers with an optional local bind address, and socket options
// applied before bind/connect. Platform specifics are separated by build
// tags (linux, other unix, everything else).

package transport
