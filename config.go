package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/nextcaller/sip-guard/allowlist"
	"github.com/nextcaller/sip-guard/firewall"
	"github.com/nextcaller/sip-guard/publisher"
)

const (
	defaultInterface = "eth0"
	defaultPort      = 5060
)

type config struct {
	LogLevel    string
	Interface   string
	Port        int
	Chain       string
	IPTables    string
	Allow       []string
	MetricsAddr string
	DryRun      bool
	MQTT        publisher.MQTTOptions
}

func defEnvStr(k, dval string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return dval
}

func defEnvBool(k string, dval bool) bool {
	v, ok := os.LookupEnv(k)
	if !ok {
		return dval
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return dval
	}
	return b
}

// parsePort reads the block port.  Anything that isn't a valid port number
// falls back to the default; zero is kept and means every port.
func parsePort(s string) int {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 65535 {
		return defaultPort
	}
	return p
}

func (c *config) Load(args []string) error {
	var allow string

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.StringVar(&c.LogLevel, "log-level", defEnvStr("LOG_LEVEL", "info"), "logging level (debug, info, error)")
	fs.StringVar(&c.Chain, "chain", defEnvStr("CHAIN", firewall.DefaultChain), "iptables chain holding DROP rules")
	fs.StringVar(&c.IPTables, "iptables", defEnvStr("IPTABLES", "iptables"), "path to the iptables binary")
	fs.StringVar(&allow, "allow", defEnvStr("SIP_UA_WHITELIST", ""), "comma separated User-Agent allow-list")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", defEnvStr("METRICS_ADDR", ""), "IP:Port to bind for /metrics endpoint")
	fs.BoolVar(&c.DryRun, "dry-run", defEnvBool("DRY_RUN", false), "keep rules in memory instead of calling iptables")

	fs.StringVar(&c.MQTT.Broker, "broker", defEnvStr("BROKER", ""), "MQTT broker for enforcement events (disabled if empty)")
	fs.StringVar(&c.MQTT.ClientID, "client-id", defEnvStr("CLIENT_ID", ""), "MQTT Client ID")
	fs.StringVar(&c.MQTT.Topic, "topic", defEnvStr("TOPIC", publisher.DefaultTopic), "MQTT topic prefix for enforcement events")
	fs.StringVar(&c.MQTT.TLSKeyFile, "key-file", defEnvStr("KEY_FILE", ""), "MQTT TLS key file (pem)")
	fs.StringVar(&c.MQTT.TLSCertFile, "cert-file", defEnvStr("CERT_FILE", ""), "MQTT TLS cert file (pem)")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	c.Interface = defEnvStr("INTERFACE", defaultInterface)
	port := defEnvStr("BLOCK_PORT", strconv.Itoa(defaultPort))
	if fs.NArg() > 0 {
		c.Interface = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		port = fs.Arg(1)
	}
	c.Port = parsePort(port)

	c.Allow = allowlist.Parse(allow)
	if len(c.Allow) == 0 {
		c.Allow = allowlist.DefaultPatterns
	}
	return nil
}
