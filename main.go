package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/povilasv/prommod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"github.com/rs/zerolog"

	"github.com/nextcaller/sip-guard/allowlist"
	"github.com/nextcaller/sip-guard/dispatch"
	"github.com/nextcaller/sip-guard/extract"
	"github.com/nextcaller/sip-guard/firewall"
	"github.com/nextcaller/sip-guard/publisher"
	"github.com/nextcaller/sip-guard/source"
)

var (
	// The following vars are meant to be filled in by
	// `go build -ldflags -X=main.<X>=<Value>`.
	// `make sip-guard` should do this for you.

	// Version is the git tag of this build (v1.2.3)
	Version = "unknown"
	// Build is the git short hash ref of this build (123abcdef)
	Build = "unknown"
	// Branch is the git branch for this build (master)
	Branch = "unknown"
	// Date is when this build was created (2020-01-02T03:04:05Z)
	Date = "unknown"
)

const errNotRoot = constError("must be run as root to manage iptables rules")

type constError string

func (e constError) Error() string { return string(e) }

// captureSource is what run needs from a packet source.
type captureSource interface {
	dispatch.Source
	Close()
	Metrics() []prometheus.Collector
}

// replaced in tests
var (
	geteuid  = os.Geteuid
	openPCAP = func(iface string) (captureSource, error) {
		p, err := source.NewPCAP(iface, "")
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	listInterfaces = source.ListInterfaces
)

func run(args []string, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := zerolog.New(stdout).With().Timestamp().Str("app", "sip-guard").Logger()
	ctx = log.WithContext(ctx)

	cfg := &config{}
	if err := cfg.Load(args); err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Debug().Msg("debug logging active")

	if geteuid() != 0 {
		return errNotRoot
	}

	log.Debug().Msg("setting up signal handling")
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
			log.Debug().Msg("received quit signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Debug().Strs("patterns", cfg.Allow).Msg("building User-Agent allow-list")
	allow := allowlist.New(cfg.Allow...)

	var ctl firewall.Control
	if cfg.DryRun {
		log.Warn().Msg("dry run, rules are kept in memory only")
		ctl = firewall.NewMemory(cfg.Chain)
	} else {
		ctl = firewall.NewIPTables(cfg.IPTables)
	}
	fw := firewall.NewReconciler(ctl, cfg.Chain, cfg.Port)

	var notify dispatch.Notifier
	var publ *publisher.MQTTPublisher
	if cfg.MQTT.Broker != "" {
		log.Debug().Str("broker", cfg.MQTT.Broker).Msg("creating MQTT publisher")
		publ, err = publisher.NewMQTT(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("unable to create MQTT publisher: %w", err)
		}
		if err := publ.Connect(ctx); err != nil {
			return fmt.Errorf("unable to connect to MQTT broker: %w", err)
		}
		defer publ.Close()
		notify = publ.Publish
	}

	log.Debug().Str("interface", cfg.Interface).Msg("initializing pcap source")
	capture, err := openPCAP(cfg.Interface)
	if err != nil {
		return fmt.Errorf("unable to initialize pcap source (available interfaces: %v): %w",
			strings.Join(listInterfaces(), ", "), err)
	}

	log.Debug().Msg("launching source shutdown closer")
	go func() { <-ctx.Done(); capture.Close() }()

	extracter := extract.NewExtracter()
	dispatcher := dispatch.New(dispatch.Config{
		Source:   capture,
		Extract:  extracter.Extract,
		Allow:    allow,
		Enforcer: fw,
		Notify:   notify,
	})

	if cfg.MetricsAddr != "" {
		log.Debug().Msg("creating Prometheus registry")
		reg := prometheus.NewRegistry()
		version.Version = Version
		version.Revision = Build
		version.Branch = Branch
		version.BuildDate = Date
		reg.MustRegister(
			version.NewCollector("sipguard"),
			prommod.NewCollector("sipguard"),
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
		reg.MustRegister(capture.Metrics()...)
		reg.MustRegister(extracter.Metrics()...)
		reg.MustRegister(fw.Metrics()...)
		reg.MustRegister(dispatcher.Metrics()...)
		if publ != nil {
			reg.MustRegister(publ.Metrics()...)
		}

		log.Debug().
			Str("address", cfg.MetricsAddr).
			Str("path", "/metrics").
			Msg("publishing Prometheus endpoint")
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, Addr: cfg.MetricsAddr}
		// Since we never call srv.Shutdown(), ListenAndServe will only ever
		// return if the underlying socket fails.
		go func() { log.Err(srv.ListenAndServe()).Msg("http metrics endpoint failed") }()
	}

	log.Info().
		Str("interface", cfg.Interface).
		Int("port", cfg.Port).
		Str("chain", cfg.Chain).
		Msg("starting sip-guard")
	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	log.Info().Msg("shutdown complete.")
	return nil
}

func main() {
	// these are stateful global module level changes; only do them in main
	time.Local = time.UTC
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.999Z07:00"

	if err := run(os.Args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
