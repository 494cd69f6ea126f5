package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// validateConfig performs cross-field validation on the complete configuration.
func validateConfig(cfg *Config) []string {
	var errs []string

	if len(cfg.Entries) == 0 {
		errs = append(errs, "no entries configured (set "+EnvPrefix+"API_KEY and "+EnvPrefix+"PROFILE, or "+EnvPrefix+"ENTRIES)")
	}

	names := make(map[string]bool)
	profiles := make(map[string]string)
	for _, e := range cfg.Entries {
		if names[e.Name] {
			errs = append(errs, fmt.Sprintf("duplicate entry name: %q", e.Name))
		}
		names[e.Name] = true

		if e.Profile == "" {
			continue
		}
		if other, ok := profiles[e.Profile]; ok {
			errs = append(errs, fmt.Sprintf("entries %q and %q use the same profile %q", other, e.Name, e.Profile))
		}
		profiles[e.Profile] = e.Name
	}

	if cfg.MQTT != nil && cfg.MQTT.Enabled() {
		if cfg.MQTT.DiscoveryPrefix == cfg.MQTT.TopicPrefix {
			errs = append(errs, "mqtt: discovery_prefix and topic_prefix must differ")
		}
	}

	return errs
}
