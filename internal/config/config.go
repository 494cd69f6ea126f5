// Package config handles loading and validation of bridge configuration from
// environment variables and an optional YAML or TOML file.
package config

import (
	"log/slog"
)

// Config holds the complete application configuration.
type Config struct {
	Global  *GlobalConfig
	MQTT    *MQTTConfig
	Entries []*EntryConfig
}

// Load loads configuration using NEXTDNSBRIDGE_CONFIG as the file path.
func Load() (*Config, error) {
	return LoadFrom(GetConfigFilePath())
}

// LoadFrom loads configuration from the file at path (if not empty) and the
// environment. Environment variables take precedence over file values.
// Every problem is collected into a single *ValidationError.
func LoadFrom(path string) (*Config, error) {
	var errs []string

	global := defaultGlobalConfig()
	mqtt := defaultMQTTConfig()
	var fileEntries []*EntryConfig

	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			errs = append(errs, "config file: "+err.Error())
		} else {
			slog.Info("loaded configuration from file", slog.String("path", path))
			errs = append(errs, fileCfg.apply(global, mqtt)...)
			fileEntries = fileCfg.entries()
		}
	}

	errs = append(errs, applyGlobalEnv(global)...)
	errs = append(errs, applyMQTTEnv(mqtt)...)

	entries, entryErrs := mergeEntries(fileEntries)
	errs = append(errs, entryErrs...)

	errs = append(errs, validateGlobalConfig(global)...)
	errs = append(errs, validateMQTTConfig(mqtt)...)

	cfg := &Config{
		Global:  global,
		MQTT:    mqtt,
		Entries: entries,
	}
	errs = append(errs, validateConfig(cfg)...)

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}
