// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for sessions, traffic and buffer pools.
// A nil *Metrics is valid and records nothing.

package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-tcp/pool"
)

// Metrics groups transport collectors.
type Metrics struct {
	SessionsActive   prometheus.Gauge
	SessionsAccepted prometheus.Counter
	SessionsRejected prometheus.Counter
	BytesRead        prometheus.Counter
	BytesWritten     prometheus.Counter
	DecodeErrors     prometheus.Counter
	WriteStalls      prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them with
// reg when reg is non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open sessions",
		}),
		SessionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_accepted_total",
			Help:      "Connections turned into sessions",
		}),
		SessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Connections refused by the admission hook",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Bytes read from sockets",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_bytes_total",
			Help:      "Bytes written to sockets",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Sessions closed because the decoder failed",
		}),
		WriteStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_queue_stalls_total",
			Help:      "Times a writer waited on a full write queue",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.SessionsActive, m.SessionsAccepted, m.SessionsRejected,
			m.BytesRead, m.BytesWritten, m.DecodeErrors, m.WriteStalls,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsAccepted.Inc()
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) Rejected() {
	if m != nil {
		m.SessionsRejected.Inc()
	}
}

func (m *Metrics) Read(n int) {
	if m != nil && n > 0 {
		m.BytesRead.Add(float64(n))
	}
}

func (m *Metrics) Written(n int64) {
	if m != nil && n > 0 {
		m.BytesWritten.Add(float64(n))
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) Stalled(n int64) {
	if m != nil && n > 0 {
		m.WriteStalls.Add(float64(n))
	}
}

// RegisterPool exports p.Stats() as gauges labelled with the pool name.
func RegisterPool(reg prometheus.Registerer, namespace, name string, p *pool.Pool) error {
	labels := prometheus.Labels{"pool": name}
	gauge := func(metric, help string, read func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, read)
	}
	collectors := []prometheus.Collector{
		gauge("leases_in_use", "Outstanding leases", func() float64 { return float64(p.Stats().InUse) }),
		gauge("bytes_in_use", "Bytes reserved by outstanding leases", func() float64 { return float64(p.Stats().InUseBytes) }),
		gauge("allocations", "Leases handed out since start", func() float64 { return float64(p.Stats().TotalAlloc) }),
		gauge("oversized", "Heap leases issued because no page had room", func() float64 { return float64(p.Stats().Oversized) }),
		gauge("exhausted", "Requests refused by the fail policy", func() float64 { return float64(p.Stats().Exhausted) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
