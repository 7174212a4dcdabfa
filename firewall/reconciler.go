package firewall

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// operation results, used as metric labels.
const (
	resultOK         = "ok"
	resultNoop       = "noop"
	resultError      = "error"
	resultUnverified = "unverified"
	resultBlocked    = "blocked"
	resultClear      = "clear"
)

// Reconciler blocks and unblocks source addresses by managing DROP rules in
// one chain.  Block and Unblock are idempotent; each consults the chain before
// and after changing it rather than remembering what it did.
//
// Nothing is retried.  A failed Block or Unblock can simply be called again.
type Reconciler struct {
	ctl     Control
	chain   string
	port    int
	metrics *Metrics
}

// NewReconciler creates a Reconciler for chain (DefaultChain if empty).  A
// port of zero blocks all traffic from an address; any other value blocks
// only UDP traffic to that port.
func NewReconciler(ctl Control, chain string, port int) *Reconciler {
	if chain == "" {
		chain = DefaultChain
	}
	if port < 0 {
		port = 0
	}
	return &Reconciler{
		ctl:     ctl,
		chain:   chain,
		port:    port,
		metrics: NewMetrics(),
	}
}

// Metrics returns a slice of prometheus.Collector objects that can be
// registered to expose firewall operation metrics via Prometheus.
func (r *Reconciler) Metrics() []prometheus.Collector { return r.metrics.List() }

func (r *Reconciler) rule(ip net.IP) Rule { return Rule{Source: ip, Port: r.port} }

func (r *Reconciler) logger(ctx context.Context, ip net.IP) zerolog.Logger {
	return zerolog.Ctx(ctx).With().
		Str("component", "firewall").
		Str("chain", r.chain).
		IPAddr("ip", ip).
		Int("port", r.port).
		Logger()
}

// IsBlocked reports whether a DROP rule for ip exists.  An exact check is
// tried first; if it fails or finds nothing, the chain listing is scanned,
// since the exact check can miss rules iptables normalized differently.
// Failure to determine the answer is reported as not blocked.
func (r *Reconciler) IsBlocked(ctx context.Context, ip net.IP) bool {
	log := r.logger(ctx, ip)

	found, err := r.ctl.Check(r.chain, r.rule(ip))
	if err == nil && found {
		r.metrics.Ops.WithLabelValues("check", resultBlocked).Inc()
		return true
	}
	if err != nil {
		log.Debug().Err(err).Msg("rule check failed, scanning chain")
	}

	listing, err := r.ctl.List(r.chain)
	if err != nil {
		r.metrics.Ops.WithLabelValues("check", resultError).Inc()
		log.Debug().Err(err).Msg("listing chain failed")
		return false
	}
	if lines := matchingLines(listing, ip, r.port); len(lines) > 0 {
		r.metrics.Ops.WithLabelValues("check", resultBlocked).Inc()
		log.Debug().Str("rule", lines[0]).Msg("found matching rule in chain listing")
		return true
	}
	r.metrics.Ops.WithLabelValues("check", resultClear).Inc()
	return false
}

// Block adds a DROP rule for ip unless one exists already.  If the rule can't
// be seen after a successful append, a warning is logged but no error is
// returned; the tool itself reported success.
func (r *Reconciler) Block(ctx context.Context, ip net.IP) error {
	log := r.logger(ctx, ip)

	if r.IsBlocked(ctx, ip) {
		r.metrics.Ops.WithLabelValues("block", resultNoop).Inc()
		log.Debug().Msg("already blocked")
		return nil
	}

	if err := r.ctl.Append(r.chain, r.rule(ip)); err != nil {
		r.metrics.Ops.WithLabelValues("block", resultError).Inc()
		return fmt.Errorf("blocking %v: %w", ip, err)
	}
	log.Info().Msg("added DROP rule")

	if !r.IsBlocked(ctx, ip) {
		r.metrics.Ops.WithLabelValues("block", resultUnverified).Inc()
		log.Warn().Msg("rule not found after adding it, it may not have been applied")
		if listing, err := r.ctl.List(r.chain); err == nil {
			log.Debug().Str("rules", listing).Msg("current chain")
		}
		return nil
	}
	r.metrics.Ops.WithLabelValues("block", resultOK).Inc()
	return nil
}

// Unblock removes the DROP rule for ip if there is one.  The rule is located
// in the chain listing and deleted by position; if that doesn't work out, it
// is deleted by specification instead.
func (r *Reconciler) Unblock(ctx context.Context, ip net.IP) error {
	log := r.logger(ctx, ip)

	if !r.IsBlocked(ctx, ip) {
		r.metrics.Ops.WithLabelValues("unblock", resultNoop).Inc()
		log.Debug().Msg("not blocked")
		return nil
	}

	listing, err := r.ctl.List(r.chain)
	if err != nil {
		log.Warn().Err(err).Msg("listing chain failed, deleting by rule specification")
	}
	for _, line := range matchingLines(listing, ip, r.port) {
		num, ok := ruleNumber(line)
		if !ok {
			continue
		}
		if err := r.ctl.DeleteNum(r.chain, num); err != nil {
			log.Warn().Err(err).Int("rule", num).Msg("deleting rule by number failed")
			continue
		}
		r.metrics.Ops.WithLabelValues("unblock", resultOK).Inc()
		log.Info().Int("rule", num).Msg("removed DROP rule")
		return nil
	}

	if err := r.ctl.Delete(r.chain, r.rule(ip)); err != nil {
		r.metrics.Ops.WithLabelValues("unblock", resultError).Inc()
		return fmt.Errorf("unblocking %v: %w", ip, err)
	}
	r.metrics.Ops.WithLabelValues("unblock", resultOK).Inc()
	log.Info().Msg("removed DROP rule by specification")
	return nil
}
