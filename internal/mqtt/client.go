// Package mqtt publishes entities to an MQTT broker using Home Assistant
// discovery and routes switch and button commands back to them.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Client is the subset of a broker connection the bridge needs.
type Client interface {
	Connect(ctx context.Context) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler Handler) error
	Unsubscribe(topics ...string) error
	Disconnect()
}

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// ClientConfig holds broker connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration

	// WillTopic receives WillPayload when the connection drops.
	WillTopic   string
	WillPayload string

	// OnConnect runs after every (re)connect.
	OnConnect func()

	Logger *slog.Logger
}

// pahoClient adapts a paho client to Client.
type pahoClient struct {
	client  paho.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a paho-backed client. It does not connect.
func NewClient(cfg ClientConfig) Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.Timeout).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("connected to MQTT broker", slog.String("broker", cfg.Broker))
		if cfg.OnConnect != nil {
			cfg.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("lost connection to MQTT broker",
			slog.String("broker", cfg.Broker),
			slog.String("error", err.Error()),
		)
	})

	return &pahoClient{
		client:  paho.NewClient(opts),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (c *pahoClient) wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.timeout):
		return ErrTimeout
	}
}

func (c *pahoClient) Connect(ctx context.Context) error {
	if err := c.wait(ctx, c.client.Connect()); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	return nil
}

func (c *pahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return c.wait(context.Background(), c.client.Publish(topic, qos, retained, payload))
}

func (c *pahoClient) Subscribe(topic string, qos byte, handler Handler) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if err := c.wait(context.Background(), token); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

func (c *pahoClient) Unsubscribe(topics ...string) error {
	return c.wait(context.Background(), c.client.Unsubscribe(topics...))
}

func (c *pahoClient) Disconnect() {
	c.client.Disconnect(250)
}
