package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/core/concurrency"
	"github.com/momentics/hioload-tcp/fake"
	"github.com/momentics/hioload-tcp/pool"
	"github.com/momentics/hioload-tcp/server"
)

func testConfig() control.Config {
	cfg := control.DefaultConfig()
	cfg.Port = 0
	cfg.Workers = 4
	cfg.Pool = pool.Config{PageSize: 1 << 20, PageCount: 2, Alignment: 64}
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func echoServer(t *testing.T) control.Config {
	t.Helper()
	s := server.New(testConfig(), fake.LengthPrefixed{}, fake.Echo{}, server.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	cfg := testConfig()
	addr := s.Addr().(*net.TCPAddr)
	cfg.Host = addr.IP.String()
	cfg.Port = addr.Port
	return cfg
}

func TestConnectTimeoutReleasesOwnedResources(t *testing.T) {
	cfg := testConfig()
	cfg.Host = "10.255.255.1" // non-routable
	cfg.Port = 81
	cfg.ConnectTimeout = time.Millisecond

	c := New(cfg, fake.RawCodec{}, fake.NewRecorder(), WithLogger(zaptest.NewLogger(t)))
	start := time.Now()
	sess, err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, StateConnectFailed, c.State())
	require.NotNil(t, c.ownWorkers)
	assert.True(t, c.ownWorkers.Closed())
	assert.True(t, c.pool.Closed())

	_, err = c.Connect(context.Background())
	assert.ErrorIs(t, err, api.ErrAlreadyRunning)
}

func TestConnectRefusedKeepsSharedWorkers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	wg, err := concurrency.NewWorkerGroup("shared", 2)
	require.NoError(t, err)
	defer wg.Close()

	cfg := testConfig()
	cfg.Port = addr.Port
	c := New(cfg, fake.RawCodec{}, fake.NewRecorder(), WithWorkerGroup(wg))
	_, err = c.Connect(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, api.ErrOperationTimeout)
	assert.False(t, wg.Closed())
}

func TestConnectRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	c := New(cfg, fake.RawCodec{}, fake.NewRecorder())
	_, err := c.Connect(context.Background())
	assert.ErrorIs(t, err, api.ErrInvalidConfig)
	assert.Equal(t, StateConnectFailed, c.State())
}

func TestConnectAsyncAndShutdown(t *testing.T) {
	cfg := echoServer(t)
	rec := fake.NewRecorder()
	local := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
	c := New(cfg, fake.LengthPrefixed{}, rec, WithLocalAddr(local), WithLogger(zaptest.NewLogger(t)))

	type result struct {
		s   api.Session
		err error
	}
	got := make(chan result, 1)
	c.ConnectAsync(context.Background(), func(s api.Session, err error) { got <- result{s, err} })

	var r result
	select {
	case r = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("ConnectAsync did not report")
	}
	require.NoError(t, r.err)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, "127.0.0.1", r.s.LocalAddr().(*net.TCPAddr).IP.String())

	require.NoError(t, r.s.WriteMessage("hello"))
	require.True(t, rec.WaitMessages(1, 3*time.Second))
	assert.Equal(t, []byte("hello"), rec.Messages()[0])

	c.Shutdown()
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, rec.Count(api.EventSessionClosed))
	assert.True(t, c.ownWorkers.Closed())
	assert.True(t, c.pool.Closed())
	assert.ErrorIs(t, r.s.WriteMessage("late"), api.ErrSessionClosed)
}

// sequence checks that echoed counters arrive in order.
type sequence struct {
	fake.Echo
	total int
	next  atomic.Int64
	bad   atomic.Int64
	done  chan struct{}
}

func (q *sequence) Process(_ api.Session, msg any) {
	v := int64(binary.BigEndian.Uint32(msg.([]byte)))
	if v != q.next.Load() {
		q.bad.Add(1)
	}
	if q.next.Add(1) == int64(q.total) {
		close(q.done)
	}
}

func TestManyConnectionsPreserveOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("load test")
	}
	const conns, msgs = 100, 1000
	cfg := echoServer(t)

	shared, err := pool.New(pool.Config{PageSize: 1 << 20, PageCount: 4, Alignment: 64})
	require.NoError(t, err)
	defer shared.Close()
	workers, err := concurrency.NewWorkerGroup("load", 8)
	require.NoError(t, err)
	defer workers.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var g errgroup.Group
	for i := 0; i < conns; i++ {
		g.Go(func() error {
			seq := &sequence{total: msgs, done: make(chan struct{})}
			c := New(cfg, fake.LengthPrefixed{}, seq, WithBufferPool(shared), WithWorkerGroup(workers))
			sess, err := c.Connect(ctx)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			var frame [4]byte
			for n := 0; n < msgs; n++ {
				binary.BigEndian.PutUint32(frame[:], uint32(n))
				if err := sess.WriteMessage(frame[:]); err != nil {
					return fmt.Errorf("write %d: %w", n, err)
				}
			}
			select {
			case <-seq.done:
			case <-ctx.Done():
				return fmt.Errorf("%d of %d echoes: %w", seq.next.Load(), msgs, ctx.Err())
			}
			if bad := seq.bad.Load(); bad != 0 {
				return fmt.Errorf("%d messages out of order", bad)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.False(t, shared.Closed())
	assert.False(t, workers.Closed())
	assert.Zero(t, shared.Stats().InUse)
}
