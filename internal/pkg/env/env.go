// Package env provides utilities for working with environment variables.
package env

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Get returns the value of the environment variable or the default if not set.
func Get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetInt returns the integer value of the environment variable.
// The default is returned when the variable is unset or not a valid integer.
func GetInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

// GetDuration returns the duration value (e.g. "30s") of the environment variable.
// The default is returned when the variable is unset or unparseable.
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

// ParseLogLevel returns the level named by LOGFEED_LOG_LEVEL, or LOG_LEVEL when
// that is unset. Values are slog level names ("debug", "info", "warn", "error",
// also "warning" and offsets such as "info+2"), case-insensitive. Falls back
// when neither is set or the value is unrecognised.
func ParseLogLevel(fallback slog.Level) slog.Level {
	raw := Get("LOGFEED_LOG_LEVEL", Get("LOG_LEVEL", ""))
	if raw == "" {
		return fallback
	}
	if strings.EqualFold(raw, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}
