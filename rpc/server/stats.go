package server

import (
	"fmt"
	"github.com/rcrowley/go-metrics"
)

// stats tracks in-process statistics of one server. The process wide Prometheus
// counters live in common.ConnMetrics.
type stats struct {
	messages metrics.Meter
	payload  metrics.Histogram
	accepted metrics.Counter
	denied   metrics.Counter
}

func newStats() *stats {
	return &stats{
		messages: metrics.NewMeter(),
		payload:  metrics.NewHistogram(metrics.NewExpDecaySample(1028, 0.015)),
		accepted: metrics.NewCounter(),
		denied:   metrics.NewCounter(),
	}
}

func (s *stats) stop() {
	s.messages.Stop()
}

// Stats is a snapshot of the server statistics
type Stats struct {
	// Connections is the number of connections in the connection set
	Connections int
	// Accepted and Denied count the decisions of OnClientConnect
	Accepted int64
	Denied   int64
	// Messages is the number of messages handled by Update
	Messages int64
	// MessageRate1 is the one minute moving average of handled messages per second
	MessageRate1 float64
	// payload size distribution of handled messages
	PayloadMean float64
	PayloadMax  int64
	PayloadP99  float64
}

func (s *stats) snapshot(connections int) Stats {
	m := s.messages.Snapshot()
	p := s.payload.Snapshot()
	return Stats{
		Connections:  connections,
		Accepted:     s.accepted.Count(),
		Denied:       s.denied.Count(),
		Messages:     m.Count(),
		MessageRate1: m.Rate1(),
		PayloadMean:  p.Mean(),
		PayloadMax:   p.Max(),
		PayloadP99:   p.Percentile(0.99),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("connections=%d accepted=%d denied=%d messages=%d rate1=%.2f/s payload(mean=%.1f max=%d p99=%.1f)",
		s.Connections, s.Accepted, s.Denied, s.Messages, s.MessageRate1, s.PayloadMean, s.PayloadMax, s.PayloadP99)
}
