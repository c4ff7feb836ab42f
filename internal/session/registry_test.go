package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/core/concurrency"
	"github.com/momentics/hioload-tcp/fake"
	"github.com/momentics/hioload-tcp/pool"
)

func TestRegistryAddGetDelete(t *testing.T) {
	wg, err := concurrency.NewWorkerGroup("registry-test", 1)
	require.NoError(t, err)
	defer wg.Close()

	r := NewRegistry(3)
	assert.Len(t, r.shards, 4)

	var ids []string
	for i := 0; i < 10; i++ {
		local, peer := net.Pipe()
		defer local.Close()
		defer peer.Close()
		s, err := New(local, Options{Pool: pool.NewHeap(), Executor: wg, Codec: fake.RawCodec{}, Handler: fake.NewRecorder()})
		require.NoError(t, err)
		r.Add(s)
		ids = append(ids, s.ID())
	}
	assert.Equal(t, 10, r.Len())

	got, ok := r.Get(ids[3])
	require.True(t, ok)
	assert.Equal(t, ids[3], got.ID())

	seen := 0
	r.Range(func(s *Session) {
		seen++
		r.Delete(s.ID())
	})
	assert.Equal(t, 10, seen)
	assert.Zero(t, r.Len())

	_, ok = r.Get(ids[0])
	assert.False(t, ok)
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, uint32(1), nextPowerOfTwo(1))
	assert.Equal(t, uint32(16), nextPowerOfTwo(16))
	assert.Equal(t, uint32(32), nextPowerOfTwo(17))
}
