package config

import (
	"fmt"
	"strings"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
)

// DefaultEntryName names the entry configured by NEXTDNSBRIDGE_API_KEY and
// NEXTDNSBRIDGE_PROFILE.
const DefaultEntryName = "default"

// EntryConfig holds configuration for one NextDNS profile to bridge.
type EntryConfig struct {
	// Name is the user-provided entry name (e.g., "home").
	Name string

	// APIKey authenticates against the NextDNS API.
	APIKey string

	// Profile is the profile id or name.
	Profile string
}

// Credential converts the entry to the credential used by entry setup.
func (c *EntryConfig) Credential() entry.Credential {
	return entry.Credential{APIKey: c.APIKey, ProfileID: c.Profile}
}

// String never includes the API key.
func (c *EntryConfig) String() string {
	return fmt.Sprintf("%s (profile %s)", c.Name, c.Profile)
}

// parseEntryNames parses the NEXTDNSBRIDGE_ENTRIES environment variable.
// Returns the list of entry names in order.
func parseEntryNames() []string {
	entriesStr := getEnv(EnvPrefix + "ENTRIES")
	if entriesStr == "" {
		return nil
	}

	var names []string
	for _, n := range strings.Split(entriesStr, ",") {
		n = strings.TrimSpace(n)
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// applyEntryEnv overrides an entry with NEXTDNSBRIDGE_{NAME}_API_KEY and
// NEXTDNSBRIDGE_{NAME}_PROFILE when they are set.
func applyEntryEnv(cfg *EntryConfig) {
	prefix := entryPrefix(cfg.Name)
	if v := getEnvWithFileFallback(prefix, "API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := getEnv(prefix + "PROFILE"); v != "" {
		cfg.Profile = v
	}
}

// mergeEntries combines file entries with environment entries. Entries named
// in NEXTDNSBRIDGE_ENTRIES are added when the file does not define them, and
// every entry picks up its own environment overrides. Without any named
// entries, NEXTDNSBRIDGE_API_KEY and NEXTDNSBRIDGE_PROFILE define the
// default entry.
func mergeEntries(fromFile []*EntryConfig) ([]*EntryConfig, []string) {
	entries := append([]*EntryConfig(nil), fromFile...)
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.Name] = true
	}

	for _, name := range parseEntryNames() {
		if known[name] {
			continue
		}
		entries = append(entries, &EntryConfig{Name: name})
		known[name] = true
	}

	if len(entries) == 0 {
		apiKey := getEnvWithFileFallback(EnvPrefix, "API_KEY")
		profile := getEnv(EnvPrefix + "PROFILE")
		if apiKey != "" || profile != "" {
			entries = append(entries, &EntryConfig{
				Name:    DefaultEntryName,
				APIKey:  apiKey,
				Profile: profile,
			})
		}
	} else {
		for _, e := range entries {
			applyEntryEnv(e)
		}
	}

	var errs []string
	for _, e := range entries {
		errs = append(errs, validateEntry(e)...)
	}
	return entries, errs
}

// validateEntry reports missing fields using the entry's variable names.
func validateEntry(cfg *EntryConfig) []string {
	var errs []string
	prefix := EnvPrefix
	if cfg.Name != DefaultEntryName {
		prefix = entryPrefix(cfg.Name)
	}

	if cfg.Name == "" {
		errs = append(errs, "entry: name is required")
		return errs
	}
	if cfg.APIKey == "" {
		errs = append(errs, fmt.Sprintf("%sAPI_KEY: required but not set", prefix))
	}
	if cfg.Profile == "" {
		errs = append(errs, fmt.Sprintf("%sPROFILE: required but not set", prefix))
	}
	return errs
}
