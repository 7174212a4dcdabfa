package firewall

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics about firewall queries and changes.
type Metrics struct {
	Ops *prometheus.CounterVec
}

// NewMetrics creates a newly initialized Metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "firewall_operations_total",
			Help: "Firewall checks, blocks and unblocks, by result",
		}, []string{"op", "result"}),
	}

	for _, r := range []string{resultBlocked, resultClear, resultError} {
		m.Ops.WithLabelValues("check", r)
	}
	for _, r := range []string{resultOK, resultNoop, resultError, resultUnverified} {
		m.Ops.WithLabelValues("block", r)
	}
	for _, r := range []string{resultOK, resultNoop, resultError} {
		m.Ops.WithLabelValues("unblock", r)
	}

	return m
}

// List the items contained with a metrics so they can be exposed via a
// prometheus.Registry.
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Ops,
	}
}
