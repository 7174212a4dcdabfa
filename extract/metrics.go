package extract

import (
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all the observability data for frame decoding and SIP
// extraction, in the form of Prometheus metrics.
type Metrics struct {
	Incoming prometheus.Counter
	NotSIP   prometheus.Counter

	Discarded  *prometheus.CounterVec
	Requests   *prometheus.CounterVec
	Actionable *prometheus.CounterVec
}

// NewMetrics creates, but does not register, a set of Prometheus.Collector metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Incoming: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frames_incoming_total",
			Help: "captured frames handed to the decoder",
		}),
		NotSIP: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payloads_not_sip_total",
			Help: "UDP payloads that did not start with a SIP request line",
		}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_discarded_total",
			Help: "frames discarded before reaching the UDP payload",
		}, []string{"reason"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_requests_total",
			Help: "SIP requests seen, by method",
		}, []string{"method"}),
		Actionable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sip_actionable_total",
			Help: "SIP requests passed on for allow-list evaluation",
		}, []string{"method"}),
	}

	// zero fill so these always show up.
	for _, r := range []string{reasonShort, reasonNotIPv4, reasonBadIHL, reasonNotUDP, reasonTruncated} {
		m.Discarded.WithLabelValues(r)
	}
	for _, sm := range []layers.SIPMethod{layers.SIPMethodRegister, layers.SIPMethodInvite} {
		m.Requests.WithLabelValues(sm.String())
		m.Actionable.WithLabelValues(sm.String())
	}

	return m
}

// List returns a slice containing each Prometheus metric, for adding to a prometheus.Registry.
func (m Metrics) List() []prometheus.Collector {
	return []prometheus.Collector{
		m.Incoming,
		m.NotSIP,
		m.Discarded,
		m.Requests,
		m.Actionable,
	}
}
