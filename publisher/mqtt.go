// Package publisher announces firewall enforcement events to an MQTT broker,
// so other systems can follow what was blocked and unblocked.
package publisher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nextcaller/sip-guard/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	// DefaultTopic is the topic prefix used when none is configured.  Events
	// go to <prefix>/block and <prefix>/unblock.
	DefaultTopic = "sip-guard/events"

	// qosAtLeastOnce is MQTT QoS level 1.
	qosAtLeastOnce = byte(1)

	// responseTimeout is how long to wait for the broker to respond to a
	// single MQTT operation when the context has no deadline.
	responseTimeout = time.Second * 2

	keepalive = time.Second * 30

	// disconnectQuiesce is in milliseconds; see paho's Client.Disconnect.
	disconnectQuiesce = 250
)

// ErrTimeout should only happen if the broker is unresponsive.
var ErrTimeout = errors.New("mqtt operation timed out")

func waitFor(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return responseTimeout
}

// MQTTOptions controls how the internal mqtt client is created.
type MQTTOptions struct {
	Topic       string
	Broker      string
	ClientID    string
	TLSKeyFile  string
	TLSCertFile string
}

// MQTTPublisher sends dispatch.Events to its connected broker.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	metrics *Metrics
}

// NewMQTT creates an MQTTPublisher from the given options.  It fails only if
// TLS files were given and could not be loaded.
func NewMQTT(o MQTTOptions) (*MQTTPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = fmt.Sprintf("sip-guard:%v", time.Now().UnixNano())
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetKeepAlive(keepalive)

	if o.TLSKeyFile != "" || o.TLSCertFile != "" {
		certs, err := tls.LoadX509KeyPair(o.TLSCertFile, o.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading tls keypair: %w", err)
		}
		opts.SetTLSConfig(&tls.Config{Certificates: []tls.Certificate{certs}})
	}

	return newPublisher(mqtt.NewClient(opts), o.Topic), nil
}

func newPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		topic:   topic,
		metrics: NewMetrics(),
	}
}

// Metrics returns a slice of prometheus.Collector objects for registration.
func (m *MQTTPublisher) Metrics() []prometheus.Collector { return m.metrics.List() }

// Connect initiates a client MQTT connection to the configured broker,
// waiting until it completes or ctx is done.
func (m *MQTTPublisher) Connect(ctx context.Context) error {
	log := zerolog.Ctx(ctx)
	token := m.client.Connect()
	for !token.WaitTimeout(waitFor(ctx)) {
		if ctx.Err() != nil {
			log.Debug().Msg("context done while waiting for mqtt connect")
			return ctx.Err()
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	log.Debug().Msg("mqtt connected")
	return nil
}

// Publish encodes ev as json and sends it with QoS 1 to the topic for its
// action.  It satisfies dispatch.Notifier.
func (m *MQTTPublisher) Publish(ctx context.Context, ev *dispatch.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event to json: %w", err)
	}
	topic := m.topic + "/" + string(ev.Action)

	zerolog.Ctx(ctx).Debug().Str("topic", topic).Bytes("event", data).Msg("publishing event")
	token := m.client.Publish(topic, qosAtLeastOnce, false, data)

	// early ctx cancellation is not noticed until the wait ends.
	if !token.WaitTimeout(waitFor(ctx)) {
		m.metrics.Failed.Inc()
		return ErrTimeout
	}
	if err := token.Error(); err != nil {
		m.metrics.Failed.Inc()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	m.metrics.Published.Inc()
	return nil
}

// Close disconnects from the broker.
func (m *MQTTPublisher) Close() {
	m.client.Disconnect(disconnectQuiesce)
}
