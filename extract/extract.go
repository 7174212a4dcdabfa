package extract

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Extracter turns raw captured frames into actionable SIP Requests, keeping
// count of everything it throws away along the way.
type Extracter struct {
	metrics *Metrics
}

// NewExtracter creates an Extracter with fresh metrics.
func NewExtracter() *Extracter {
	return &Extracter{metrics: NewMetrics()}
}

// Metrics returns a slice of prometheus.Collector objects that can be registered
// to expose frame and SIP extraction metrics via Prometheus.
func (e *Extracter) Metrics() []prometheus.Collector { return e.metrics.List() }

// Extract decodes a frame down to its UDP payload and parses it as SIP.  It
// only returns ok for REGISTER and INVITE requests; every other outcome is an
// expected, silent discard and is only visible in metrics.
func (e *Extracter) Extract(ctx context.Context, frame []byte) (*Request, bool) {
	e.metrics.Incoming.Inc()

	src, payload, reason := decodeFrame(frame)
	if reason != reasonNone {
		e.metrics.Discarded.WithLabelValues(reason).Inc()
		return nil, false
	}

	req, method, known := parseSIP(payload, src)
	if !known {
		e.metrics.NotSIP.Inc()
		return nil, false
	}
	e.metrics.Requests.WithLabelValues(method.String()).Inc()
	if req == nil {
		return nil, false
	}
	e.metrics.Actionable.WithLabelValues(method.String()).Inc()

	zerolog.Ctx(ctx).Info().
		Str("method", req.Method.String()).
		IPAddr("source", req.Source).
		Str("user_agent", req.UserAgent).
		Msg("received SIP request")
	return req, true
}
