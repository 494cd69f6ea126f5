package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Global configuration defaults.
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultServerPort         = 8080
	DefaultRateLimit          = 5.0
	DefaultRateBurst          = 10
	DefaultRequestTimeout     = 10 * time.Second
	DefaultAnalyticsInterval  = 10 * time.Minute
	DefaultConnectionInterval = time.Minute
	DefaultSettingsInterval   = time.Minute
	DefaultProfileInterval    = 10 * time.Minute
)

// GlobalConfig holds application-wide settings.
// These are parsed from NEXTDNSBRIDGE_* environment variables.
type GlobalConfig struct {
	// Logging configuration
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// HTTP server
	ServerPort int

	// NextDNS API client
	RateLimit      float64       // Requests per second, 0 disables limiting
	RateBurst      int           // Burst size for the rate limiter
	RequestTimeout time.Duration // Per-request and per-fetch timeout

	// Polling intervals
	AnalyticsInterval  time.Duration
	ConnectionInterval time.Duration
	SettingsInterval   time.Duration
	ProfileInterval    time.Duration
}

// defaultGlobalConfig returns a GlobalConfig with every default applied.
func defaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
		ServerPort:         DefaultServerPort,
		RateLimit:          DefaultRateLimit,
		RateBurst:          DefaultRateBurst,
		RequestTimeout:     DefaultRequestTimeout,
		AnalyticsInterval:  DefaultAnalyticsInterval,
		ConnectionInterval: DefaultConnectionInterval,
		SettingsInterval:   DefaultSettingsInterval,
		ProfileInterval:    DefaultProfileInterval,
	}
}

// applyGlobalEnv overrides cfg with any NEXTDNSBRIDGE_* variable that is set.
// Returns a list of validation errors (may be empty).
func applyGlobalEnv(cfg *GlobalConfig) []string {
	var errs []string

	if v := getEnv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getEnv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	if v := getEnv(EnvPrefix + "SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sSERVER_PORT: invalid integer %q", EnvPrefix, v))
		} else {
			cfg.ServerPort = port
		}
	}

	if v := getEnv(EnvPrefix + "RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sRATE_LIMIT: invalid number %q", EnvPrefix, v))
		} else {
			cfg.RateLimit = limit
		}
	}

	if v := getEnv(EnvPrefix + "RATE_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sRATE_BURST: invalid integer %q", EnvPrefix, v))
		} else {
			cfg.RateBurst = burst
		}
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"ANALYTICS_INTERVAL", &cfg.AnalyticsInterval},
		{"CONNECTION_INTERVAL", &cfg.ConnectionInterval},
		{"SETTINGS_INTERVAL", &cfg.SettingsInterval},
		{"PROFILE_INTERVAL", &cfg.ProfileInterval},
	}
	for _, d := range durations {
		v := getEnv(EnvPrefix + d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s%s: invalid duration %q (use format like 60s, 5m)", EnvPrefix, d.key, v))
			continue
		}
		*d.target = parsed
	}

	return errs
}

// validateGlobalConfig checks ranges and enumerations.
func validateGlobalConfig(cfg *GlobalConfig) []string {
	var errs []string

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		errs = append(errs, fmt.Sprintf("log level: invalid value %q (must be debug, info, warn, or error)", cfg.LogLevel))
	}

	switch cfg.LogFormat {
	case "json", "text":
		// Valid
	default:
		errs = append(errs, fmt.Sprintf("log format: invalid value %q (must be json or text)", cfg.LogFormat))
	}

	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		errs = append(errs, fmt.Sprintf("server port: must be between 1 and 65535, got %d", cfg.ServerPort))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, "rate limit: must not be negative")
	}
	if cfg.RateLimit > 0 && cfg.RateBurst < 1 {
		errs = append(errs, "rate burst: must be at least 1 when rate limiting is enabled")
	}
	if cfg.RequestTimeout < time.Second {
		errs = append(errs, "request timeout: must be at least 1s")
	}

	intervals := []struct {
		name  string
		value time.Duration
	}{
		{"analytics interval", cfg.AnalyticsInterval},
		{"connection interval", cfg.ConnectionInterval},
		{"settings interval", cfg.SettingsInterval},
		{"profile interval", cfg.ProfileInterval},
	}
	for _, iv := range intervals {
		if iv.value < 10*time.Second {
			errs = append(errs, fmt.Sprintf("%s: must be at least 10s, got %s", iv.name, iv.value))
		}
	}

	return errs
}
