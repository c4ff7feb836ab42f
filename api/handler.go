// File: api/handler.go
// Package api defines the message processor contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "net"

// Event enumerates session lifecycle notifications.
type Event int

const (
	// EventNewSession fires once a session is connected and ready.
	EventNewSession Event = iota
	// EventInputShutdown fires when the peer closed its sending side.
	EventInputShutdown
	// EventProcessException fires when Process panicked.
	EventProcessException
	// EventDecodeException fires when the decoder failed; the session closes.
	EventDecodeException
	// EventInputException fires on a read failure; the session closes.
	EventInputException
	// EventOutputException fires on a write failure; the session closes.
	EventOutputException
	// EventSessionClosing fires when a graceful close starts draining.
	EventSessionClosing
	// EventSessionClosed fires after every buffer of the session is released.
	EventSessionClosed
	// EventRejectAccept fires when the admission hook refused a connection.
	// The session argument is nil.
	EventRejectAccept
)

func (e Event) String() string {
	switch e {
	case EventNewSession:
		return "new_session"
	case EventInputShutdown:
		return "input_shutdown"
	case EventProcessException:
		return "process_exception"
	case EventDecodeException:
		return "decode_exception"
	case EventInputException:
		return "input_exception"
	case EventOutputException:
		return "output_exception"
	case EventSessionClosing:
		return "session_closing"
	case EventSessionClosed:
		return "session_closed"
	case EventRejectAccept:
		return "reject_accept"
	default:
		return "unknown"
	}
}

// Processor consumes decoded messages and lifecycle events. Both methods run
// on worker goroutines and must not block for unbounded time.
type Processor interface {
	Process(s Session, msg any)
	StateEvent(s Session, ev Event, err error)
}

// AdmissionFunc inspects a freshly accepted connection before a session is
// built. Returning an error rejects it; the returned conn may wrap the input.
type AdmissionFunc func(conn net.Conn) (net.Conn, error)
