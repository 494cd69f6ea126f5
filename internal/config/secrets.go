package config

import (
	"os"
	"strings"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "NEXTDNSBRIDGE_"

// getEnv retrieves an environment variable value.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrFile retrieves a value from either a direct environment variable
// or a file path specified by the file key (Docker secrets pattern).
//
// If both are set, the file takes precedence. The file contents are trimmed
// of leading/trailing whitespace.
func getEnvOrFile(directKey, fileKey string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	return os.Getenv(directKey)
}

// getEnvWithFileFallback retrieves a value supporting the _FILE suffix pattern.
// Given a base key like "API_KEY", it checks:
//  1. API_KEY_FILE - reads file contents if set
//  2. API_KEY - returns direct value if set
func getEnvWithFileFallback(prefix, key string) string {
	return getEnvOrFile(prefix+key, prefix+key+"_FILE")
}

// parseBool parses a boolean string, returning defaultValue on parse failure.
// Accepts: true/false, 1/0, yes/no, on/off (case-insensitive).
func parseBool(s string, defaultValue bool) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// normalizeEntryName converts an entry name to environment variable format.
// Example: "home-office" → "HOME_OFFICE"
func normalizeEntryName(name string) string {
	normalized := strings.ToUpper(name)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

// entryPrefix creates the full environment variable prefix for an entry.
// Example: "home-office" → "NEXTDNSBRIDGE_HOME_OFFICE_"
func entryPrefix(name string) string {
	return EnvPrefix + normalizeEntryName(name) + "_"
}
