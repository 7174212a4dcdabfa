package dispatch

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/nextcaller/sip-guard/extract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	// DefaultSweepEvery is how many loop iterations pass between sweeps of
	// the recently processed addresses.
	DefaultSweepEvery = 1000
	// DefaultIdleLogEvery is how many capture timeouts pass between "still
	// waiting" debug logs.
	DefaultIdleLogEvery = 1000
	// DefaultErrorPause is how long to wait after a capture error before
	// reading again.
	DefaultErrorPause = time.Second
)

// Source delivers captured frames.  Next blocks until a frame is available or
// its own read timeout passes; a timeout is reported as an error wrapping
// os.ErrDeadlineExceeded.
type Source interface {
	Next() ([]byte, error)
}

// Enforcer queries and changes whether an address is blocked.
type Enforcer interface {
	IsBlocked(ctx context.Context, ip net.IP) bool
	Block(ctx context.Context, ip net.IP) error
	Unblock(ctx context.Context, ip net.IP) error
}

// Allower decides whether a User-Agent is permitted.
type Allower interface {
	Allowed(userAgent string) bool
}

// Extractor turns a frame into an actionable request, if it holds one.
type Extractor func(ctx context.Context, frame []byte) (*extract.Request, bool)

// Notifier is told about every block and unblock attempt.
type Notifier func(ctx context.Context, ev *Event) error

// Config holds the collaborators and tunables for a Dispatcher.  Zero
// tunables take their Default values.
type Config struct {
	Source   Source
	Extract  Extractor
	Allow    Allower
	Enforcer Enforcer
	// Notify may be nil.
	Notify Notifier

	SweepEvery   int
	IdleLogEvery int
	ErrorPause   time.Duration
	Retention    time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Dispatcher reads frames one at a time and brings the firewall in line with
// the allow-list for every SIP REGISTER or INVITE it finds.  Frame handling,
// decisions, and firewall changes all happen sequentially on the goroutine
// calling Run.
type Dispatcher struct {
	cfg     Config
	recent  *Recent
	metrics *Metrics
}

// loopState is owned by Run and threaded through each step.
type loopState struct {
	iterations uint64
	idle       uint64
}

// New creates a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	if cfg.IdleLogEvery <= 0 {
		cfg.IdleLogEvery = DefaultIdleLogEvery
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = DefaultErrorPause
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		cfg:     cfg,
		recent:  NewRecent(cfg.Retention),
		metrics: NewMetrics(),
	}
}

// Metrics returns a list of prometheus.Collector interfaces, suitable for
// passing to prometheus.Registry to export dispatch metrics.
func (d *Dispatcher) Metrics() []prometheus.Collector { return d.metrics.List() }

// Recent exposes the recently processed addresses.
func (d *Dispatcher) Recent() *Recent { return d.recent }

// Run processes frames until ctx is canceled.  No single frame, capture error
// or failed firewall change stops it.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	log.Info().Msg("monitoring SIP traffic")

	st := &loopState{}
	for {
		if err := ctx.Err(); err != nil {
			log.Debug().Uint64("iterations", st.iterations).Msg("dispatch loop exiting")
			return err
		}
		d.step(ctx, st)
	}
}

// step is one iteration: read, maybe act, maybe sweep.
func (d *Dispatcher) step(ctx context.Context, st *loopState) {
	log := zerolog.Ctx(ctx)

	frame, err := d.cfg.Source.Next()
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		d.metrics.Timeouts.Inc()
		st.idle++
		if st.idle%uint64(d.cfg.IdleLogEvery) == 0 {
			log.Debug().Uint64("timeouts", st.idle).Msg("waiting for packets")
		}
	case err != nil:
		d.metrics.CaptureErrors.Inc()
		log.Err(err).Msg("capture error")
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.ErrorPause):
		}
	default:
		if req, ok := d.cfg.Extract(ctx, frame); ok {
			d.Handle(ctx, req)
		}
	}

	st.iterations++
	if st.iterations%uint64(d.cfg.SweepEvery) == 0 {
		d.sweep(ctx)
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	dropped := d.recent.Sweep(d.cfg.Now())
	d.metrics.Tracked.Set(float64(d.recent.Len()))
	if dropped > 0 {
		zerolog.Ctx(ctx).Debug().Int("dropped", dropped).Int("tracked", d.recent.Len()).Msg("swept recently processed addresses")
	}
}

func (d *Dispatcher) notify(ctx context.Context, ev *Event) {
	if d.cfg.Notify == nil {
		return
	}
	if err := d.cfg.Notify(ctx, ev); err != nil {
		zerolog.Ctx(ctx).Err(err).Interface("event", ev).Msg("publishing event failed")
	}
}

// Handle makes the firewall agree with the allow-list for one request: an
// allowed User-Agent gets its source unblocked, any other gets it blocked.
func (d *Dispatcher) Handle(ctx context.Context, req *extract.Request) Action {
	log := zerolog.Ctx(ctx).With().
		IPAddr("ip", req.Source).
		Str("user_agent", req.UserAgent).
		Str("method", req.Method.String()).
		Logger()

	action := ActionNone
	if d.cfg.Allow.Allowed(req.UserAgent) {
		if d.cfg.Enforcer.IsBlocked(ctx, req.Source) {
			log.Info().Msg("unblocking, user agent is allowed")
			ev := newEvent(d.cfg.Now(), ActionUnblock, req)
			action = ActionUnblock
			if err := d.cfg.Enforcer.Unblock(ctx, req.Source); err != nil {
				log.Err(err).Msg("unblock failed")
				ev.Error = err.Error()
				action = ActionFailed
			} else {
				log.Info().Msg("unblocked")
			}
			d.notify(ctx, ev)
		} else {
			log.Debug().Msg("user agent is allowed and not blocked")
		}
	} else {
		if !d.cfg.Enforcer.IsBlocked(ctx, req.Source) {
			log.Warn().Msg("blocking, user agent is not allowed")
			ev := newEvent(d.cfg.Now(), ActionBlock, req)
			action = ActionBlock
			if err := d.cfg.Enforcer.Block(ctx, req.Source); err != nil {
				log.Err(err).Msg("block failed")
				ev.Error = err.Error()
				action = ActionFailed
			} else {
				log.Info().Msg("blocked")
				ev.Verified = d.cfg.Enforcer.IsBlocked(ctx, req.Source)
				if ev.Verified {
					log.Info().Msg("block confirmed")
				} else {
					log.Warn().Msg("not blocked after blocking, the rule may not have been applied")
				}
			}
			d.notify(ctx, ev)
		} else {
			log.Debug().Msg("user agent is not allowed and already blocked")
		}
	}

	d.metrics.Decisions.WithLabelValues(string(action)).Inc()
	d.recent.Touch(req.Source.String(), d.cfg.Now())
	d.metrics.Tracked.Set(float64(d.recent.Len()))
	return action
}
