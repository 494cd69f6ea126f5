package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entity"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/metrics"
)

// Payloads.
const (
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
	PayloadPress   = "PRESS"
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Config holds topic layout settings.
type Config struct {
	DiscoveryPrefix string
	TopicPrefix     string
	QoS             byte
	CommandTimeout  time.Duration
}

// DefaultConfig returns the Home Assistant defaults.
func DefaultConfig() Config {
	return Config{
		DiscoveryPrefix: "homeassistant",
		TopicPrefix:     "nextdns",
		QoS:             1,
		CommandTimeout:  30 * time.Second,
	}
}

// BridgeAvailabilityTopic is the topic the bridge's own availability is
// published to.
func (c Config) BridgeAvailabilityTopic() string {
	return c.TopicPrefix + "/bridge/availability"
}

// DiscoveryTopic returns <discovery_prefix>/<component>/nextdns_<profile>/<key>/config.
func (c Config) DiscoveryTopic(p entity.Platform, profileID, key string) string {
	return fmt.Sprintf("%s/%s/nextdns_%s/%s/config", c.DiscoveryPrefix, p, profileID, key)
}

// EntityTopic returns <topic_prefix>/<profile>/<key>/<suffix>.
func (c Config) EntityTopic(profileID, key, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.TopicPrefix, profileID, key, suffix)
}

// discoveryDevice is the device block of a discovery payload.
type discoveryDevice struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

// discoveryConfig is a Home Assistant MQTT discovery payload.
type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	ObjectID          string          `json:"object_id"`
	StateTopic        string          `json:"state_topic,omitempty"`
	CommandTopic      string          `json:"command_topic,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`
	PayloadPress      string          `json:"payload_press,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	Unit              string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	EntityCategory    string          `json:"entity_category,omitempty"`
	EnabledByDefault  bool            `json:"enabled_by_default"`
	Device            discoveryDevice `json:"device"`
}

// stopFlushTimeout bounds how long Stop waits for queued publishes.
const stopFlushTimeout = 5 * time.Second

// Bridge mirrors entity sets to the broker. It implements entity.Observer.
// Publishes are queued and sent by one goroutine, so callers never wait on
// the broker.
type Bridge struct {
	client Client
	cfg    Config
	logger *slog.Logger
	out    *outbox
	sent   chan struct{}
	stop   sync.Once

	mu       sync.RWMutex
	entities map[string]*entity.Entity
	subs     map[string][]string
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a bridge publishing through client.
func NewBridge(client Client, cfg Config, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		client:   client,
		cfg:      cfg,
		logger:   slog.Default(),
		entities: make(map[string]*entity.Entity),
		subs:     make(map[string][]string),
		out:      newOutbox(),
		sent:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.send()
	return b
}

// send publishes queued messages until the outbox is closed and drained.
func (b *Bridge) send() {
	defer close(b.sent)
	for {
		m, ok := b.out.next()
		if !ok {
			return
		}
		metrics.MQTTQueueDepth.Set(float64(b.out.len()))
		if err := b.client.Publish(m.topic, b.cfg.QoS, m.retained, m.payload); err != nil {
			metrics.MQTTPublishErrors.Inc()
			b.logger.Warn("MQTT publish failed",
				slog.String("topic", m.topic),
				slog.String("error", err.Error()),
			)
		} else {
			metrics.MQTTMessagesPublished.WithLabelValues(m.kind).Inc()
		}
		b.out.done()
	}
}

// Flush waits until every queued message was handed to the broker client.
func (b *Bridge) Flush(ctx context.Context) error {
	return b.out.flush(ctx)
}

// Start connects and announces the bridge as online.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	b.publish("availability", b.cfg.BridgeAvailabilityTopic(), true, []byte(PayloadOnline))
	return b.Flush(ctx)
}

// Stop announces the bridge as offline, sends what is still queued and
// disconnects. Stop is idempotent.
func (b *Bridge) Stop() {
	b.stop.Do(func() {
		b.publish("availability", b.cfg.BridgeAvailabilityTopic(), true, []byte(PayloadOffline))

		ctx, cancel := context.WithTimeout(context.Background(), stopFlushTimeout)
		defer cancel()
		if err := b.Flush(ctx); err != nil {
			b.logger.Warn("MQTT queue not drained before disconnect",
				slog.Int("pending", b.out.len()),
			)
		}
		b.out.close()
		select {
		case <-b.sent:
		case <-ctx.Done():
		}
		b.client.Disconnect()
	})
}

// Resubscribe restores command subscriptions and the online marker after a
// reconnect.
func (b *Bridge) Resubscribe() {
	b.mu.RLock()
	var topics []string
	for _, t := range b.subs {
		topics = append(topics, t...)
	}
	b.mu.RUnlock()

	for _, topic := range topics {
		if err := b.client.Subscribe(topic, b.cfg.QoS, b.handleCommand); err != nil {
			b.logger.Error("MQTT resubscribe failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
	}
	b.publish("availability", b.cfg.BridgeAvailabilityTopic(), true, []byte(PayloadOnline))
}

// publish queues a message. A newer message for the same topic replaces a
// queued one.
func (b *Bridge) publish(kind, topic string, retained bool, payload []byte) {
	b.out.put(outMessage{kind: kind, topic: topic, retained: retained, payload: payload})
	metrics.MQTTQueueDepth.Set(float64(b.out.len()))
}

// Attached announces every entity of s and subscribes to its commands.
func (b *Bridge) Attached(s *entity.Set) {
	h := s.Handle()
	profileID := h.Credential().ProfileID
	device := h.Device()

	b.mu.Lock()
	for _, e := range s.Entities() {
		b.entities[e.UniqueID()] = e
	}
	b.mu.Unlock()

	for _, e := range s.Entities() {
		payload, err := json.Marshal(b.discovery(e, profileID, device))
		if err != nil {
			b.logger.Error("encoding discovery config failed",
				slog.String("entity", e.UniqueID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		desc := e.Description()
		b.publish("discovery", b.cfg.DiscoveryTopic(desc.Platform, profileID, desc.Key), true, payload)
	}

	topics := []string{
		b.cfg.EntityTopic(profileID, "+", "set"),
		b.cfg.EntityTopic(profileID, "+", "press"),
	}
	var subscribed []string
	for _, topic := range topics {
		if err := b.client.Subscribe(topic, b.cfg.QoS, b.handleCommand); err != nil {
			b.logger.Error("MQTT subscribe failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			continue
		}
		subscribed = append(subscribed, topic)
	}

	b.mu.Lock()
	b.subs[h.ID()] = subscribed
	b.mu.Unlock()

	b.logger.Info("entities announced",
		slog.String("profile", profileID),
		slog.Int("count", len(s.Entities())),
	)
}

// Detached withdraws the entities of s from the broker.
func (b *Bridge) Detached(s *entity.Set) {
	h := s.Handle()
	profileID := h.Credential().ProfileID

	b.mu.Lock()
	topics := b.subs[h.ID()]
	delete(b.subs, h.ID())
	for _, e := range s.Entities() {
		delete(b.entities, e.UniqueID())
	}
	b.mu.Unlock()

	if len(topics) > 0 {
		if err := b.client.Unsubscribe(topics...); err != nil {
			b.logger.Warn("MQTT unsubscribe failed", slog.String("error", err.Error()))
		}
	}

	for _, e := range s.Entities() {
		desc := e.Description()
		b.publish("availability", b.cfg.EntityTopic(profileID, desc.Key, "availability"), true, []byte(PayloadOffline))
		b.publish("discovery", b.cfg.DiscoveryTopic(desc.Platform, profileID, desc.Key), true, nil)
	}
}

// Publish sends an entity's state and availability.
func (b *Bridge) Publish(st entity.State) {
	availability := PayloadOffline
	if st.Available {
		availability = PayloadOnline
	}
	b.publish("availability", b.cfg.EntityTopic(st.ProfileID, st.Key, "availability"), true, []byte(availability))

	payload, ok := StatePayload(st)
	if !ok {
		return
	}
	b.publish("state", b.cfg.EntityTopic(st.ProfileID, st.Key, "state"), true, []byte(payload))
}

// StatePayload renders a state value. Buttons and unset values have none.
func StatePayload(st entity.State) (string, bool) {
	switch v := st.Value.(type) {
	case bool:
		if v {
			return PayloadOn, true
		}
		return PayloadOff, true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

func (b *Bridge) discovery(e *entity.Entity, profileID string, device entry.Device) discoveryConfig {
	desc := e.Description()
	dc := discoveryConfig{
		Name:              e.Name(),
		UniqueID:          e.UniqueID(),
		ObjectID:          "nextdns_" + strings.ReplaceAll(e.UniqueID(), "-", "_"),
		AvailabilityTopic: b.cfg.EntityTopic(profileID, desc.Key, "availability"),
		Icon:              desc.Icon,
		Unit:              desc.Unit,
		DeviceClass:       desc.DeviceClass,
		StateClass:        desc.StateClass,
		EntityCategory:    desc.Category,
		EnabledByDefault:  desc.EnabledByDefault,
		Device: discoveryDevice{
			Name:             device.Name,
			Manufacturer:     device.Manufacturer,
			Model:            device.Model,
			ConfigurationURL: device.ConfigurationURL,
		},
	}
	for _, ident := range device.Identifiers {
		dc.Device.Identifiers = append(dc.Device.Identifiers, ident.Domain+"_"+ident.ID)
	}

	switch desc.Platform {
	case entity.PlatformButton:
		dc.CommandTopic = b.cfg.EntityTopic(profileID, desc.Key, "press")
		dc.PayloadPress = PayloadPress
	case entity.PlatformSwitch:
		dc.StateTopic = b.cfg.EntityTopic(profileID, desc.Key, "state")
		dc.CommandTopic = b.cfg.EntityTopic(profileID, desc.Key, "set")
		dc.PayloadOn = PayloadOn
		dc.PayloadOff = PayloadOff
	case entity.PlatformBinarySensor:
		dc.StateTopic = b.cfg.EntityTopic(profileID, desc.Key, "state")
		dc.PayloadOn = PayloadOn
		dc.PayloadOff = PayloadOff
	default:
		dc.StateTopic = b.cfg.EntityTopic(profileID, desc.Key, "state")
	}
	return dc
}

// handleCommand dispatches <topic_prefix>/<profile>/<key>/{set,press}.
// Commands run off the client's delivery goroutine.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, b.cfg.TopicPrefix+"/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return
	}
	uniqueID := entity.UniqueID(parts[0], parts[1])

	b.mu.RLock()
	e, ok := b.entities[uniqueID]
	b.mu.RUnlock()
	if !ok {
		b.logger.Debug("command for unknown entity", slog.String("topic", topic))
		return
	}

	var action func(context.Context) error
	switch cmd := strings.ToUpper(strings.TrimSpace(string(payload))); {
	case parts[2] == "press":
		action = e.Press
	case parts[2] == "set" && cmd == PayloadOn:
		action = e.TurnOn
	case parts[2] == "set" && cmd == PayloadOff:
		action = e.TurnOff
	default:
		b.logger.Warn("unsupported MQTT command",
			slog.String("topic", topic),
			slog.String("payload", string(payload)),
		)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
		defer cancel()
		if err := action(ctx); err != nil {
			b.logger.Warn("MQTT command failed",
				slog.String("entity", uniqueID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

var _ entity.Observer = (*Bridge)(nil)
