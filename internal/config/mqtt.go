package config

import (
	"fmt"
	"strconv"
	"time"
)

// MQTT defaults.
const (
	DefaultMQTTClientID        = "nextdnsbridge"
	DefaultMQTTDiscoveryPrefix = "homeassistant"
	DefaultMQTTTopicPrefix     = "nextdns"
	DefaultMQTTQoS             = 1
	DefaultMQTTTimeout         = 10 * time.Second
)

// MQTTConfig holds broker settings. Publishing is enabled when Broker is set.
type MQTTConfig struct {
	Broker          string // tcp://host:1883, ssl://host:8883, ws://...
	ClientID        string
	Username        string
	Password        string
	DiscoveryPrefix string
	TopicPrefix     string
	QoS             int
	Timeout         time.Duration
}

// Enabled reports whether a broker is configured.
func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func defaultMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		ClientID:        DefaultMQTTClientID,
		DiscoveryPrefix: DefaultMQTTDiscoveryPrefix,
		TopicPrefix:     DefaultMQTTTopicPrefix,
		QoS:             DefaultMQTTQoS,
		Timeout:         DefaultMQTTTimeout,
	}
}

// applyMQTTEnv overrides cfg with NEXTDNSBRIDGE_MQTT_* variables.
func applyMQTTEnv(cfg *MQTTConfig) []string {
	var errs []string
	prefix := EnvPrefix + "MQTT_"

	strs := []struct {
		key    string
		target *string
	}{
		{"BROKER", &cfg.Broker},
		{"CLIENT_ID", &cfg.ClientID},
		{"USERNAME", &cfg.Username},
		{"DISCOVERY_PREFIX", &cfg.DiscoveryPrefix},
		{"TOPIC_PREFIX", &cfg.TopicPrefix},
	}
	for _, s := range strs {
		if v := getEnv(prefix + s.key); v != "" {
			*s.target = v
		}
	}

	if v := getEnvWithFileFallback(prefix, "PASSWORD"); v != "" {
		cfg.Password = v
	}

	if v := getEnv(prefix + "QOS"); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sQOS: invalid integer %q", prefix, v))
		} else {
			cfg.QoS = qos
		}
	}

	if v := getEnv(prefix + "TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sTIMEOUT: invalid duration %q", prefix, v))
		} else {
			cfg.Timeout = timeout
		}
	}

	return errs
}

func validateMQTTConfig(cfg *MQTTConfig) []string {
	if !cfg.Enabled() {
		return nil
	}

	var errs []string
	if cfg.QoS < 0 || cfg.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt qos: must be 0, 1 or 2, got %d", cfg.QoS))
	}
	if cfg.ClientID == "" {
		errs = append(errs, "mqtt client id: required when a broker is set")
	}
	if cfg.DiscoveryPrefix == "" || cfg.TopicPrefix == "" {
		errs = append(errs, "mqtt: discovery_prefix and topic_prefix must not be empty")
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, "mqtt timeout: must be positive")
	}
	return errs
}
