package session

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/core/concurrency"
	"github.com/momentics/hioload-tcp/fake"
	"github.com/momentics/hioload-tcp/pipeline"
	"github.com/momentics/hioload-tcp/pool"
)

const waitFor = 2 * time.Second

type harness struct {
	pool    *pool.Pool
	workers *concurrency.WorkerGroup
	rec     *fake.Recorder
	peer    net.Conn
	s       *Session
	started bool
}

func newHarness(t *testing.T, codec api.Codec, readChunk int) *harness {
	t.Helper()
	p, err := pool.New(pool.Config{PageSize: 64 << 10, PageCount: 2, Alignment: 64})
	require.NoError(t, err)
	wg, err := concurrency.NewWorkerGroup("session-test", 2)
	require.NoError(t, err)

	local, peer := net.Pipe()
	rec := fake.NewRecorder()
	s, err := New(local, Options{
		Pool:          p,
		Executor:      wg,
		Codec:         codec,
		Handler:       rec,
		ReadChunkSize: readChunk,
		Write:         pipeline.Config{ChunkSize: 64, Capacity: 4},
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	h := &harness{pool: p, workers: wg, rec: rec, peer: peer, s: s}
	t.Cleanup(func() {
		peer.Close()
		s.Close(true)
		if h.started {
			// the test logger must not outlive the test
			<-s.Done()
		}
		wg.Close()
	})
	return h
}

func (h *harness) start() {
	h.started = true
	h.s.Start()
}

func frame(p string) []byte {
	out := make([]byte, 4+len(p))
	binary.BigEndian.PutUint32(out, uint32(len(p)))
	copy(out[4:], p)
	return out
}

func (h *harness) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-h.s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not close")
	}
}

func TestSessionDecodesSplitFramesInOrder(t *testing.T) {
	h := newHarness(t, fake.LengthPrefixed{}, 256)
	h.start()

	wire := append(frame("one"), frame("two")...)
	wire = append(wire, frame("three")...)
	go func() {
		// dribble the bytes so frames straddle reads
		for i := 0; i < len(wire); i += 3 {
			end := min(i+3, len(wire))
			if _, err := h.peer.Write(wire[i:end]); err != nil {
				return
			}
		}
	}()

	require.True(t, h.rec.WaitMessages(3, waitFor))
	assert.Equal(t, []any{[]byte("one"), []byte("two"), []byte("three")}, h.rec.Messages())
	assert.Equal(t, 1, h.rec.Count(api.EventNewSession))
	assert.Equal(t, api.EventNewSession, h.rec.Events()[0].Event)
}

func TestSessionEchoesThroughPipeline(t *testing.T) {
	h := newHarness(t, fake.LengthPrefixed{}, 256)
	h.rec.OnMessage = func(s api.Session, msg any) {
		s.WriteMessage(msg)
	}
	h.start()

	go h.peer.Write(frame("ping"))

	got := make([]byte, len(frame("ping")))
	h.peer.SetReadDeadline(time.Now().Add(waitFor))
	_, err := io.ReadFull(h.peer, got)
	require.NoError(t, err)
	assert.Equal(t, frame("ping"), got)
}

func TestSessionOversizedFrameIsDecodeException(t *testing.T) {
	h := newHarness(t, fake.LengthPrefixed{}, 16)
	h.start()

	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, 100)
	go func() {
		h.peer.Write(hdr)
		h.peer.Write(make([]byte, 12))
	}()

	require.True(t, h.rec.WaitEvent(api.EventDecodeException, 1, waitFor))
	h.waitClosed(t)
	for _, e := range h.rec.Events() {
		if e.Event == api.EventDecodeException {
			assert.ErrorIs(t, e.Err, ErrFrameTooLarge)
		}
	}
	assert.Equal(t, 1, h.rec.Count(api.EventSessionClosed))
	assert.Zero(t, h.pool.Stats().InUse)
}

func TestSessionProcessorPanicKeepsSession(t *testing.T) {
	h := newHarness(t, fake.LengthPrefixed{}, 256)
	h.rec.OnMessage = func(_ api.Session, msg any) {
		if string(msg.([]byte)) == "bad" {
			panic("processor failure")
		}
	}
	h.start()

	go func() {
		h.peer.Write(frame("bad"))
		h.peer.Write(frame("good"))
	}()

	require.True(t, h.rec.WaitMessages(2, waitFor))
	assert.Equal(t, 1, h.rec.Count(api.EventProcessException))
	assert.Equal(t, api.SessionActive, h.s.Status())
}

func TestSessionGracefulCloseDrainsPipeline(t *testing.T) {
	h := newHarness(t, fake.RawCodec{}, 64)
	h.start()

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := h.s.Write(payload)
	require.NoError(t, err)

	received := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(h.peer)
		received <- b
	}()

	h.s.Close(false)
	_, err = h.s.Write([]byte("late"))
	assert.ErrorIs(t, err, api.ErrSessionClosed)

	select {
	case b := <-received:
		assert.Equal(t, payload, b)
	case <-time.After(waitFor):
		t.Fatal("peer did not see EOF")
	}
	h.waitClosed(t)
	assert.Equal(t, 1, h.rec.Count(api.EventSessionClosing))
	assert.Equal(t, 1, h.rec.Count(api.EventSessionClosed))
	assert.Zero(t, h.pool.Stats().InUse)
}

func TestSessionPeerCloseReportsInputShutdown(t *testing.T) {
	h := newHarness(t, fake.RawCodec{}, 64)
	h.start()
	require.True(t, h.rec.WaitEvent(api.EventNewSession, 1, waitFor))

	require.NoError(t, h.peer.Close())
	h.waitClosed(t)

	assert.Equal(t, 1, h.rec.Count(api.EventInputShutdown))
	assert.Equal(t, api.SessionClosed, h.s.Status())
	assert.ErrorIs(t, h.s.Flush(), api.ErrSessionClosed)
	assert.ErrorIs(t, h.s.WriteMessage("x"), api.ErrSessionClosed)
	assert.Zero(t, h.pool.Stats().InUse)
}

func TestSessionImmediateCloseReleasesQueuedWrites(t *testing.T) {
	h := newHarness(t, fake.RawCodec{}, 64)
	// writer not started: nothing drains the pipeline
	for i := 0; i < 3; i++ {
		_, err := h.s.Write(make([]byte, 64))
		require.NoError(t, err)
	}
	assert.NotZero(t, h.pool.Stats().InUse)

	h.start()
	h.s.Close(true)
	h.waitClosed(t)

	assert.Zero(t, h.pool.Stats().InUse)
	assert.Equal(t, 1, h.rec.Count(api.EventSessionClosed))
	assert.Zero(t, h.rec.Count(api.EventOutputException))
}

func TestSessionAttachment(t *testing.T) {
	h := newHarness(t, fake.RawCodec{}, 64)
	assert.Nil(t, h.s.Attachment())
	h.s.SetAttachment(42)
	assert.Equal(t, 42, h.s.Attachment())
	assert.NotEmpty(t, h.s.ID())
}

func TestNewRequiresCollaborators(t *testing.T) {
	local, peer := net.Pipe()
	defer local.Close()
	defer peer.Close()
	_, err := New(local, Options{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
