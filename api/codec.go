// File: api/codec.go
// Package api defines the message codec contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "io"

// Decoder turns the bytes accumulated in a session's read buffer into
// application messages. Decode is called repeatedly for one read event until
// it returns a nil message; consumed bytes must be removed with Advance/Read.
// Per-stream parser state may be kept on the session attachment.
type Decoder interface {
	Decode(buf Buffer, s Session) (any, error)
}

// Encoder serializes an outbound message into the session write pipeline.
type Encoder interface {
	Encode(msg any, w io.Writer) error
}

// Codec combines both directions.
type Codec interface {
	Decoder
	Encoder
}
