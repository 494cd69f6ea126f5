package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the configuration file structure. The same layout is
// read from YAML and TOML.
type FileConfig struct {
	// Logging configuration
	Logging *FileLoggingConfig `yaml:"logging,omitempty" toml:"logging"`

	// HTTP server
	Server *FileServerConfig `yaml:"server,omitempty" toml:"server"`

	// NextDNS API client
	API *FileAPIConfig `yaml:"api,omitempty" toml:"api"`

	// Polling intervals
	Intervals *FileIntervalsConfig `yaml:"intervals,omitempty" toml:"intervals"`

	// MQTT publishing
	MQTT *FileMQTTConfig `yaml:"mqtt,omitempty" toml:"mqtt"`

	// Bridged profiles
	Entries []FileEntryConfig `yaml:"entries,omitempty" toml:"entries"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" toml:"format"` // json, text
}

// FileServerConfig holds HTTP server settings.
type FileServerConfig struct {
	Port int `yaml:"port,omitempty" toml:"port"`
}

// FileAPIConfig holds NextDNS client settings.
type FileAPIConfig struct {
	RateLimit      *float64 `yaml:"rate_limit,omitempty" toml:"rate_limit"` // Pointer to distinguish unset from 0
	RateBurst      int      `yaml:"rate_burst,omitempty" toml:"rate_burst"`
	RequestTimeout string   `yaml:"request_timeout,omitempty" toml:"request_timeout"` // Go duration format
}

// FileIntervalsConfig holds polling intervals in Go duration format.
type FileIntervalsConfig struct {
	Analytics  string `yaml:"analytics,omitempty" toml:"analytics"`
	Connection string `yaml:"connection,omitempty" toml:"connection"`
	Settings   string `yaml:"settings,omitempty" toml:"settings"`
	Profile    string `yaml:"profile,omitempty" toml:"profile"`
}

// FileMQTTConfig holds broker settings.
type FileMQTTConfig struct {
	Broker          string `yaml:"broker,omitempty" toml:"broker"`
	ClientID        string `yaml:"client_id,omitempty" toml:"client_id"`
	Username        string `yaml:"username,omitempty" toml:"username"`
	Password        string `yaml:"password,omitempty" toml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty" toml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix,omitempty" toml:"topic_prefix"`
	QoS             *int   `yaml:"qos,omitempty" toml:"qos"`
	Timeout         string `yaml:"timeout,omitempty" toml:"timeout"`
}

// FileEntryConfig holds one bridged profile.
type FileEntryConfig struct {
	Name    string `yaml:"name" toml:"name"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Profile string `yaml:"profile" toml:"profile"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// interpolateEnvVars interpolates environment variables in every string field.
func (c *FileConfig) interpolateEnvVars() {
	if c.Logging != nil {
		c.Logging.Level = InterpolateEnvVars(c.Logging.Level)
		c.Logging.Format = InterpolateEnvVars(c.Logging.Format)
	}

	if c.API != nil {
		c.API.RequestTimeout = InterpolateEnvVars(c.API.RequestTimeout)
	}

	if c.Intervals != nil {
		c.Intervals.Analytics = InterpolateEnvVars(c.Intervals.Analytics)
		c.Intervals.Connection = InterpolateEnvVars(c.Intervals.Connection)
		c.Intervals.Settings = InterpolateEnvVars(c.Intervals.Settings)
		c.Intervals.Profile = InterpolateEnvVars(c.Intervals.Profile)
	}

	if c.MQTT != nil {
		m := c.MQTT
		m.Broker = InterpolateEnvVars(m.Broker)
		m.ClientID = InterpolateEnvVars(m.ClientID)
		m.Username = InterpolateEnvVars(m.Username)
		m.Password = InterpolateEnvVars(m.Password)
		m.DiscoveryPrefix = InterpolateEnvVars(m.DiscoveryPrefix)
		m.TopicPrefix = InterpolateEnvVars(m.TopicPrefix)
		m.Timeout = InterpolateEnvVars(m.Timeout)
	}

	for i := range c.Entries {
		e := &c.Entries[i]
		e.Name = InterpolateEnvVars(e.Name)
		e.APIKey = InterpolateEnvVars(e.APIKey)
		e.Profile = InterpolateEnvVars(e.Profile)
	}
}

// LoadFile reads and parses a configuration file. The format is chosen by
// extension: .yaml/.yml or .toml. Environment variables in ${VAR} format are
// interpolated.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (use .yaml, .yml or .toml)", ext)
	}

	cfg.interpolateEnvVars()

	return &cfg, nil
}

// apply copies file values over the defaults in global and mqtt.
func (c *FileConfig) apply(global *GlobalConfig, mqtt *MQTTConfig) []string {
	var errs []string

	parse := func(name, value string, target *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", name, value))
			return
		}
		*target = d
	}

	if c.Logging != nil {
		if c.Logging.Level != "" {
			global.LogLevel = strings.ToLower(c.Logging.Level)
		}
		if c.Logging.Format != "" {
			global.LogFormat = strings.ToLower(c.Logging.Format)
		}
	}

	if c.Server != nil && c.Server.Port != 0 {
		global.ServerPort = c.Server.Port
	}

	if c.API != nil {
		if c.API.RateLimit != nil {
			global.RateLimit = *c.API.RateLimit
		}
		if c.API.RateBurst != 0 {
			global.RateBurst = c.API.RateBurst
		}
		parse("api.request_timeout", c.API.RequestTimeout, &global.RequestTimeout)
	}

	if c.Intervals != nil {
		parse("intervals.analytics", c.Intervals.Analytics, &global.AnalyticsInterval)
		parse("intervals.connection", c.Intervals.Connection, &global.ConnectionInterval)
		parse("intervals.settings", c.Intervals.Settings, &global.SettingsInterval)
		parse("intervals.profile", c.Intervals.Profile, &global.ProfileInterval)
	}

	if m := c.MQTT; m != nil {
		if m.Broker != "" {
			mqtt.Broker = m.Broker
		}
		if m.ClientID != "" {
			mqtt.ClientID = m.ClientID
		}
		if m.Username != "" {
			mqtt.Username = m.Username
		}
		if m.Password != "" {
			mqtt.Password = m.Password
		}
		if m.DiscoveryPrefix != "" {
			mqtt.DiscoveryPrefix = m.DiscoveryPrefix
		}
		if m.TopicPrefix != "" {
			mqtt.TopicPrefix = m.TopicPrefix
		}
		if m.QoS != nil {
			mqtt.QoS = *m.QoS
		}
		parse("mqtt.timeout", m.Timeout, &mqtt.Timeout)
	}

	return errs
}

// entries converts the file's entry list.
func (c *FileConfig) entries() []*EntryConfig {
	out := make([]*EntryConfig, 0, len(c.Entries))
	for _, e := range c.Entries {
		out = append(out, &EntryConfig{
			Name:    e.Name,
			APIKey:  e.APIKey,
			Profile: e.Profile,
		})
	}
	return out
}

// GetConfigFilePath returns the config file path from NEXTDNSBRIDGE_CONFIG.
// Returns empty string if no config file is specified.
func GetConfigFilePath() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}
