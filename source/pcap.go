package source

import (
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultFilter restricts capture to UDP, where SIP signaling we act on lives.
	DefaultFilter = "udp"

	snapLen     = 65535
	readTimeout = time.Second
)

// PCAP wraps a live pcap.Handle, delivering one raw frame per call to Next
// and exposing a Close() method to cleanly shut down.
type PCAP struct {
	handle  *pcap.Handle
	metrics *Metrics
}

// Next returns the next captured frame.  If nothing arrives within the read
// timeout it returns an error wrapping os.ErrDeadlineExceeded, so callers
// regularly get control back on a quiet interface.
func (p *PCAP) Next() ([]byte, error) {
	data, _, err := p.handle.ReadPacketData()
	switch err {
	case nil:
		p.metrics.Frames.Inc()
		return data, nil
	case pcap.NextErrorTimeoutExpired:
		return nil, fmt.Errorf("pcap read: %w", os.ErrDeadlineExceeded)
	default:
		return nil, fmt.Errorf("pcap read: %w", err)
	}
}

// Close stops the pcap handle.
func (p *PCAP) Close() {
	p.handle.Close()
}

// Metrics returns a slice of prometheus.Collector items
// for exposing the interface and filter options via Prometheus.
func (p *PCAP) Metrics() []prometheus.Collector { return p.metrics.List() }

// NewPCAP opens iface for promiscuous live capture, restricted by filter
// (DefaultFilter if empty).
func NewPCAP(iface string, filter string) (*PCAP, error) {
	if filter == "" {
		filter = DefaultFilter
	}

	handle, err := pcap.OpenLive(iface, snapLen, true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening capture interface %v: %w", iface, err)
	}

	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("setting BPF filter to %v: %w", filter, err)
	}

	src := &PCAP{
		handle:  handle,
		metrics: NewMetrics(),
	}

	src.metrics.CapSource.WithLabelValues(iface, filter, handle.LinkType().String()).Set(1)
	return src, nil
}

// ListInterfaces names every interface pcap can capture from.  Errors are
// swallowed; this is only used to help out after a failed open.
func ListInterfaces() []string {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(devs))
	for _, d := range devs {
		names = append(names, d.Name)
	}
	return names
}
