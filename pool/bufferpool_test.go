package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/api"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestPoolRejectsBadConfig(t *testing.T) {
	_, err := New(Config{PageSize: 0, PageCount: 1})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = New(Config{PageSize: 1024, PageCount: -1})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestPoolGetInvalidSize(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 1024, PageCount: 1})
	_, err := p.Get(0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestPoolReuseDoesNotLeakOldContent(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 256, PageCount: 1, Alignment: 16})

	first, err := p.Get(32)
	require.NoError(t, err)
	first.Append([]byte("stale payload from first lease"))
	off := first.off
	require.NoError(t, first.Release())

	second, err := p.Get(32)
	require.NoError(t, err)
	assert.Equal(t, off, second.off, "freed region should be reused")
	assert.Equal(t, 0, second.Len())

	second.Append([]byte("new"))
	assert.Equal(t, []byte("new"), second.Bytes())
	require.NoError(t, second.Release())
}

func TestPoolDoubleReleaseDetected(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 256, PageCount: 1})
	l, err := p.Get(10)
	require.NoError(t, err)

	require.NoError(t, l.Release())
	assert.ErrorIs(t, l.Release(), api.ErrDoubleRelease)

	st := p.Stats()
	assert.Equal(t, int64(1), st.TotalAlloc)
	assert.Equal(t, int64(1), st.TotalFree)
	assert.Equal(t, int64(0), st.InUse)
	assert.Equal(t, int64(0), st.InUseBytes)
}

func TestPoolUseAfterReleasePanics(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 256, PageCount: 1})
	l, err := p.Get(10)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	assert.PanicsWithValue(t, api.ErrLeaseReleased, func() { l.Bytes() })
	assert.Panics(t, func() { l.Append([]byte("x")) })
}

func TestPoolFailPolicy(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 64, PageCount: 1, Policy: PolicyFail})

	a, err := p.Get(64)
	require.NoError(t, err)

	_, err = p.Get(1)
	assert.ErrorIs(t, err, api.ErrPoolExhausted)
	assert.ErrorIs(t, err, api.ErrResourceExhausted)

	_, err = p.Get(65)
	assert.ErrorIs(t, err, api.ErrPoolExhausted)
	assert.Equal(t, int64(2), p.Stats().Exhausted)

	require.NoError(t, a.Release())
	b, err := p.Get(1)
	require.NoError(t, err)
	require.NoError(t, b.Release())
}

func TestPoolGrowPolicyServesOversized(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 64, PageCount: 1})

	big, err := p.Get(1000)
	require.NoError(t, err)
	assert.False(t, big.Pooled())
	assert.Equal(t, 1000, big.Cap())
	assert.Equal(t, int64(1), p.Stats().Oversized)
	require.NoError(t, big.Release())
	assert.Equal(t, int64(0), p.Stats().InUseBytes)
}

func TestPoolDisabledMode(t *testing.T) {
	p := NewHeap()
	l, err := p.Get(100)
	require.NoError(t, err)
	assert.False(t, l.Pooled())
	assert.Equal(t, 0, p.Stats().Pages)
	require.NoError(t, l.Release())
	assert.ErrorIs(t, l.Release(), api.ErrDoubleRelease)
}

func TestPoolReleaseAfterClose(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 128, PageCount: 1})
	l, err := p.Get(16)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Close(), api.ErrBufferPoolClosed)

	_, err = p.Get(16)
	assert.ErrorIs(t, err, api.ErrBufferPoolClosed)

	assert.ErrorIs(t, l.Release(), api.ErrBufferPoolClosed)
	assert.ErrorIs(t, l.Release(), api.ErrDoubleRelease)
}

func TestPoolSpreadsAcrossPages(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 64, PageCount: 4, Policy: PolicyFail})
	var leases []*Lease
	for i := 0; i < 4; i++ {
		l, err := p.Get(64)
		require.NoError(t, err)
		assert.True(t, l.Pooled())
		leases = append(leases, l)
	}
	_, err := p.Get(1)
	assert.ErrorIs(t, err, api.ErrPoolExhausted)
	for _, l := range leases {
		require.NoError(t, l.Release())
	}
	for _, pg := range p.pages {
		assert.Equal(t, 64, pg.largestFree())
	}
}

func TestPoolConcurrentGetRelease(t *testing.T) {
	p := newTestPool(t, Config{PageSize: 4096, PageCount: 4, Alignment: 32})

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				l, err := p.Get(1 + (g*31+i)%200)
				if !assert.NoError(t, err) {
					return
				}
				l.Append([]byte{byte(g)})
				assert.Equal(t, byte(g), l.Bytes()[0])
				assert.NoError(t, l.Release())
			}
		}(g)
	}
	wg.Wait()

	st := p.Stats()
	assert.Equal(t, int64(0), st.InUse)
	assert.Equal(t, int64(0), st.InUseBytes)
	for _, pg := range p.pages {
		assert.Equal(t, 4096, pg.largestFree(), "page %d fragmented", pg.id)
	}
}
