package common

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"sync/atomic"
)

// ConnMetrics groups the process wide counters of one endpoint role (client or server).
// Counters are registered in the default VictoriaMetrics set and exported by WriteMetrics.
type ConnMetrics struct {
	FramesSent       *metrics.Counter
	FramesReceived   *metrics.Counter
	BytesSent        *metrics.Counter
	BytesReceived    *metrics.Counter
	HandshakesOK     *metrics.Counter
	HandshakesFailed *metrics.Counter
	Disconnects      *metrics.Counter

	active *atomic.Int64
}

var roleActive = map[string]*atomic.Int64{
	"client": new(atomic.Int64),
	"server": new(atomic.Int64),
}

// NewConnMetrics returns the counters of role ("client" or "server").
// Calling it repeatedly with the same role returns counters backed by the same values.
func NewConnMetrics(role string) *ConnMetrics {
	active, ok := roleActive[role]
	if !ok {
		panic(fmt.Sprintf("unknown metrics role %q", role))
	}

	name := func(metric string) string {
		return fmt.Sprintf(`kqnet_%s{role=%q}`, metric, role)
	}

	metrics.GetOrCreateGauge(name("connections_active"), func() float64 {
		return float64(active.Load())
	})

	return &ConnMetrics{
		FramesSent:       metrics.GetOrCreateCounter(name("frames_sent_total")),
		FramesReceived:   metrics.GetOrCreateCounter(name("frames_received_total")),
		BytesSent:        metrics.GetOrCreateCounter(name("bytes_sent_total")),
		BytesReceived:    metrics.GetOrCreateCounter(name("bytes_received_total")),
		HandshakesOK:     metrics.GetOrCreateCounter(fmt.Sprintf(`kqnet_handshakes_total{role=%q,result="ok"}`, role)),
		HandshakesFailed: metrics.GetOrCreateCounter(fmt.Sprintf(`kqnet_handshakes_total{role=%q,result="failed"}`, role)),
		Disconnects:      metrics.GetOrCreateCounter(name("disconnects_total")),
		active:           active,
	}
}

// ConnOpened increments the active connection gauge
func (m *ConnMetrics) ConnOpened() {
	m.active.Add(1)
}

// ConnClosed decrements the active connection gauge
func (m *ConnMetrics) ConnClosed() {
	m.active.Add(-1)
}

// Active returns the current number of open connections of this role
func (m *ConnMetrics) Active() int64 {
	return m.active.Load()
}

// WriteMetrics writes all kqnet metrics in Prometheus text format
func WriteMetrics(w io.Writer, exposeProcessMetrics bool) {
	metrics.WritePrometheus(w, exposeProcessMetrics)
}
