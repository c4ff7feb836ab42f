// File: api/session.go
// Package api defines the session contract exposed to processors.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "net"

// SessionStatus enumerates the state of a session.
type SessionStatus int

const (
	SessionUnknown SessionStatus = iota
	SessionActive
	SessionClosing
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session binds one connection to its read buffer, write pipeline and codec.
// Once closed, write calls return ErrSessionClosed.
type Session interface {
	ID() string
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Write appends raw bytes to the write pipeline without flushing.
	Write(p []byte) (int, error)
	// WriteAndFlush appends p and asks the network layer to drain.
	WriteAndFlush(p []byte) error
	// WriteMessage encodes msg with the session codec and flushes.
	WriteMessage(msg any) error
	// Flush asks the network layer to drain queued data.
	Flush() error

	// Close starts a graceful (drain first) or immediate close.
	Close(immediate bool)
	Status() SessionStatus
	// Done is closed after EventSessionClosed has been delivered.
	Done() <-chan struct{}

	Attachment() any
	SetAttachment(v any)
}
