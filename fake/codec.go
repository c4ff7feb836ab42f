// File: fake/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/hioload-tcp/api"
)

func payload(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("fake: unsupported message type %T: %w", msg, api.ErrInvalidArgument)
	}
}

// RawCodec hands every readable byte to the processor as one []byte and
// writes []byte or string messages as-is.
type RawCodec struct{}

var _ api.Codec = RawCodec{}

func (RawCodec) Decode(buf api.Buffer, _ api.Session) (any, error) {
	n := buf.Len()
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, buf.Bytes())
	buf.Advance(n)
	return out, nil
}

func (RawCodec) Encode(msg any, w io.Writer) error {
	p, err := payload(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(p)
	return err
}

// LengthPrefixed frames messages with a 4-byte big-endian length.
type LengthPrefixed struct {
	// MaxFrame rejects larger frames when positive.
	MaxFrame int
}

var _ api.Codec = LengthPrefixed{}

const headerLen = 4

func (c LengthPrefixed) Decode(buf api.Buffer, _ api.Session) (any, error) {
	if buf.Len() < headerLen {
		return nil, nil
	}
	size := int(binary.BigEndian.Uint32(buf.Bytes()))
	if c.MaxFrame > 0 && size > c.MaxFrame {
		return nil, fmt.Errorf("fake: frame of %d bytes exceeds %d", size, c.MaxFrame)
	}
	if buf.Len() < headerLen+size {
		return nil, nil
	}
	out := make([]byte, size)
	copy(out, buf.Bytes()[headerLen:headerLen+size])
	buf.Advance(headerLen + size)
	return out, nil
}

func (c LengthPrefixed) Encode(msg any, w io.Writer) error {
	p, err := payload(msg)
	if err != nil {
		return err
	}
	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(p)
	return err
}
