package pool

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseCursors(t *testing.T) {
	p := NewHeap()
	l, err := p.Get(8)
	require.NoError(t, err)

	assert.Equal(t, 5, l.Append([]byte("hello")))
	assert.Equal(t, 3, l.Append([]byte("world")))
	assert.Equal(t, 0, l.Writable())
	assert.Equal(t, []byte("hellowor"), l.Bytes())

	buf := make([]byte, 3)
	n, err := l.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	l.Compact()
	assert.Equal(t, []byte("lowor"), l.Bytes())
	assert.Equal(t, 3, l.Writable())

	copy(l.Space(), "ld!")
	l.Commit(3)
	assert.Equal(t, "loworld!", string(l.Bytes()))

	l.Advance(l.Len())
	_, err = l.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 8, l.Writable(), "drained lease rewinds")
}

func TestLeaseWrap(t *testing.T) {
	l := Wrap([]byte("abc"))
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 0, l.Writable())
	assert.NoError(t, l.Release())
	assert.True(t, l.Released())
}
