package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics about the dispatch loop: what it decided
// and how the capture source behaved.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	CaptureErrors prometheus.Counter
	Timeouts      prometheus.Counter
	Tracked       prometheus.Gauge
}

// NewMetrics creates a newly initialized Metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "SIP requests handled, by resulting firewall action",
		}, []string{"action"}),
		CaptureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_errors_total",
			Help: "Errors reading from the capture source",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_timeouts_total",
			Help: "Capture reads that timed out without a packet",
		}),
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracked_ips",
			Help: "Source addresses handled within the retention window",
		}),
	}

	for _, a := range []Action{ActionNone, ActionBlock, ActionUnblock, ActionFailed} {
		m.Decisions.WithLabelValues(string(a))
	}

	return m
}

// List the items contained with a metrics so they can be exposed via a
// prometheus.Registry.
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Decisions,
		m.CaptureErrors,
		m.Timeouts,
		m.Tracked,
	}
}
