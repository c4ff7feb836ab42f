package control

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/pool"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed()
		m.Rejected()
		m.Read(10)
		m.Written(10)
		m.DecodeError()
		m.Stalled(3)
	})
}

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("test", reg)
	require.NoError(t, err)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.Read(100)
	m.Read(0)
	m.Written(42)
	m.Stalled(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsAccepted))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.BytesRead))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.BytesWritten))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WriteStalls))

	_, err = NewMetrics("test", reg)
	assert.Error(t, err, "duplicate registration")
}

func TestRegisterPool(t *testing.T) {
	p, err := pool.New(pool.Config{PageSize: 4096, PageCount: 1})
	require.NoError(t, err)
	defer p.Close()

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPool(reg, "test", "read", p))

	l, err := p.Get(100)
	require.NoError(t, err)
	defer l.Release()

	n, err := testutil.GatherAndCount(reg, "test_pool_leases_in_use")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "test_pool_leases_in_use" {
			assert.Equal(t, 1.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestDebugProbesServeJSON(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })

	rr := httptest.NewRecorder()
	dp.ServeHTTP(rr, httptest.NewRequest("GET", "/debug/state", nil))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, 42.0, out["answer"])
	assert.Contains(t, out, "platform.cpus")
}

func TestDebugProbePanicIsReported(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("broken", func() any { panic("nil pool") })
	dp.RegisterProbe("ok", func() any { return "fine" })

	state := dp.DumpState()
	assert.Equal(t, "fine", state["ok"])
	assert.Equal(t, "probe panic: nil pool", state["broken"])
}
