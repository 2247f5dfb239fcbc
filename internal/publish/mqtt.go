// Package publish mirrors display changes to an MQTT broker.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/ppiankov/dxmap/internal/logging"
	"github.com/ppiankov/dxmap/internal/metrics"
	"github.com/ppiankov/dxmap/internal/model"
	"github.com/rs/zerolog"
)

const (
	connectTimeout  = 30 * time.Second
	publishTimeout  = 10 * time.Second
	disconnectQuiet = 250 // ms
	queueSize       = 256
)

var ErrNotConnected = errors.New("not connected to MQTT broker")

// Config selects the broker and topic
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
}

// ConfigFromModel converts the file configuration
func ConfigFromModel(c model.MQTTConfig) Config {
	return Config{
		Broker:   c.Broker,
		ClientID: c.ClientID,
		Topic:    c.Topic,
		Username: c.Username,
		Password: c.Password,
	}
}

// Message is the JSON payload published for each change
type Message struct {
	ID     string                `json:"id"`
	Event  string                `json:"event"` // admit or retire
	At     time.Time             `json:"at"`
	Record *model.EnrichedRecord `json:"record"`
}

type outbound struct {
	topic   string
	payload []byte
}

// Publisher is a display observer. Callbacks only queue; Run does the I/O.
type Publisher struct {
	cfg    Config
	client mqtt.Client
	queue  chan outbound
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a publisher with a paho client for cfg.Broker
func New(cfg Config) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	p := NewWithClient(cfg, nil)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info().Str("broker", cfg.Broker).Msg("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})
	p.client = mqtt.NewClient(opts)
	return p
}

// NewWithClient wraps an existing client
func NewWithClient(cfg Config, client mqtt.Client) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = "dxmap/spots"
	}
	return &Publisher{
		cfg:    cfg,
		client: client,
		queue:  make(chan outbound, queueSize),
		log:    logging.Component("mqtt"),
		now:    time.Now,
	}
}

// OnAdmit queues an admit message
func (p *Publisher) OnAdmit(rec *model.EnrichedRecord) {
	p.enqueue("admit", rec)
}

// OnRetire queues a retire message
func (p *Publisher) OnRetire(rec *model.EnrichedRecord) {
	p.enqueue("retire", rec)
}

func (p *Publisher) enqueue(event string, rec *model.EnrichedRecord) {
	payload, err := json.Marshal(Message{
		ID:     uuid.NewString(),
		Event:  event,
		At:     p.now().UTC(),
		Record: rec,
	})
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("error").Inc()
		p.log.Warn().Err(err).Msg("encode message")
		return
	}

	select {
	case p.queue <- outbound{topic: p.cfg.Topic + "/" + event, payload: payload}:
	default:
		metrics.MQTTMessages.WithLabelValues("dropped").Inc()
	}
}

// Connect dials the broker
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return fmt.Errorf("connect %s: timeout", p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", p.cfg.Broker, err)
	}
	return nil
}

// Run connects and publishes queued messages until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.Connect(ctx); err != nil {
		return err
	}
	defer p.client.Disconnect(disconnectQuiet)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.queue:
			if err := p.publish(msg); err != nil {
				p.log.Warn().Err(err).Str("topic", msg.topic).Msg("publish failed")
			}
		}
	}
}

func (p *Publisher) publish(msg outbound) error {
	if !p.client.IsConnected() {
		metrics.MQTTMessages.WithLabelValues("error").Inc()
		return ErrNotConnected
	}
	token := p.client.Publish(msg.topic, p.cfg.QoS, false, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		metrics.MQTTMessages.WithLabelValues("timeout").Inc()
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		metrics.MQTTMessages.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	metrics.MQTTMessages.WithLabelValues("ok").Inc()
	return nil
}

func (p *Publisher) String() string { return "mqtt-publisher" }
