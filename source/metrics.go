package source

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains a Prometheus metric recording the capture interface, BPF
// filter and link type as labels on a constant gauge, plus a count of frames
// read.
type Metrics struct {
	CapSource *prometheus.GaugeVec
	Frames    prometheus.Counter
}

// NewMetrics creates a new Metrics object.
func NewMetrics() *Metrics {
	m := &Metrics{
		CapSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "packets_source_info",
			Help: "Constant, labeled with capture interface, BPF filter and link type",
		}, []string{"source", "bpf_filter", "link_type"}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_captured_total",
			Help: "Frames read from the capture handle",
		}),
	}

	return m
}

// List the items contained with a Metrics so that they can be exposed via a
// prometheus.Registry
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.CapSource,
		m.Frames,
	}
}
