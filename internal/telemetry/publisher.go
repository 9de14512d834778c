// Package telemetry publishes scan progress to an MQTT broker.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

const (
	DefaultPrefix  = "nearfield"
	publishTimeout = 2 * time.Second
	connectTimeout = 10 * time.Second
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("MQTT client not connected")

// BrokerConfig describes the MQTT broker connection.
type BrokerConfig struct {
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883, empty disables telemetry
	ClientID string `yaml:"clientID"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// Connect creates a client and connects it to the broker.
func Connect(ctx context.Context, config BrokerConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)

	clientID := config.ClientID
	if clientID == "" {
		clientID = DefaultPrefix + "-scanner"
	}
	opts.SetClientID(clientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		return nil, fmt.Errorf("connecting to %s: timed out", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", config.Broker, err)
	}

	return client, nil
}

// WithLogger sets the logger for the publisher
func WithLogger(logger *slog.Logger) func(p *Publisher) {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPrefix sets the topic prefix
func WithPrefix(prefix string) func(p *Publisher) {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// Publisher sends scan events under <prefix>/<run>/.
type Publisher struct {
	client mqtt.Client
	prefix string
	runID  string
	qos    byte

	logger *slog.Logger
}

// NewPublisher creates a publisher for one run.
// If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, runID string, options ...func(p *Publisher)) *Publisher {
	p := Publisher{
		client: client,
		prefix: DefaultPrefix,
		runID:  runID,
		qos:    0, // fire and forget
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Enabled reports whether a broker client is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}

// Topic returns the full topic of a run event.
func (p *Publisher) Topic(event string) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, p.runID, event)
}

// PhaseEvent announces a sequencer phase change.
type PhaseEvent struct {
	Phase     string    `json:"phase"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RowEvent reports a completed scan row.
type RowEvent struct {
	Orientation int           `json:"orientation"`
	Row         int           `json:"row"`
	Rows        int           `json:"rows"`
	Measured    int           `json:"measured"`
	Valid       int           `json:"valid"`
	Mean        field.Reading `json:"mean"` // dBm
	Timestamp   time.Time     `json:"timestamp"`
}

// LiveEvent carries one live monitor reading.
type LiveEvent struct {
	Power     field.Reading `json:"power"`
	Timestamp time.Time     `json:"timestamp"`
}

// PublishPhase publishes a retained phase message so late subscribers see the current phase.
func (p *Publisher) PublishPhase(phase, detail string) error {
	return p.publish("phase", true, PhaseEvent{
		Phase:     phase,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// PublishRow publishes row progress.
func (p *Publisher) PublishRow(ev RowEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return p.publish("row", false, ev)
}

// PublishLive publishes a live reading.
func (p *Publisher) PublishLive(r field.Reading) error {
	return p.publish("live", false, LiveEvent{
		Power:     r,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(event string, retain bool, v any) error {
	if !p.Enabled() {
		return nil
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}

	topic := p.Topic(event)

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	p.logger.Debug("telemetry published", slog.String("topic", topic))
	return nil
}

// Close disconnects the client, letting in-flight messages drain.
func (p *Publisher) Close() {
	if p.Enabled() {
		p.client.Disconnect(250)
	}
}
