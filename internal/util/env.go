// Package util holds small helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable. Unset or unrecognized
// values fall back to the given default; accepted spellings are
// true/1/yes/on and false/0/no/off, case-insensitive.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "":
		return defaultValue
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean value, using default", "key", key, "value", val, "default", defaultValue)
	return defaultValue
}
