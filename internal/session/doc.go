// Package session
// Author: momentics <momentics@gmail.com>
//
// Connection sessions: one net.Conn bound to a read lease, an outbound
// write pipeline and a codec. Each session runs a reader goroutine that
// hands decode cycles to the shared worker group one at a time, and a
// writer goroutine that drains the pipeline with vectored writes.
//
// Registry keeps live sessions in FNV-sharded maps for lookup and
// shutdown sweeps.

package session
