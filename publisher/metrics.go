package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts event publication outcomes.
type Metrics struct {
	Published prometheus.Counter
	Failed    prometheus.Counter
}

// NewMetrics creates a newly initialized Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Enforcement events published to MQTT",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_failed_total",
			Help: "Enforcement events that could not be published",
		}),
	}
}

// List the items contained with a metrics so they can be exposed via a
// prometheus.Registry.
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Published,
		m.Failed,
	}
}
