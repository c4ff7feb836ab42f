// Package pipeline
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound write pipeline: one WriteBuffer per connection.
//
// Application writes are coalesced into pool-backed chunks. A chunk that
// fills up is sealed and queued on a bounded FIFO; the network layer pulls
// chunks with Poll in exactly the order they were written. Producers block
// when the queue is full until Poll frees a slot or the pipeline closes.
//
// All state is guarded by one mutex per WriteBuffer. A write that spans
// several chunks holds the pipeline's turn for its whole duration, so other
// writers of the same connection cannot interleave bytes into it while it
// waits for queue space.
package pipeline
