// Package config reads service configuration from the environment. Invalid
// values fall back to their defaults with a warning rather than failing
// startup.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := lookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	return parse(key, fallback, strconv.Atoi)
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	return parse(key, fallback, strconv.ParseBool)
}

// GetSeconds reads a whole number of seconds as a time.Duration.
func GetSeconds(key string, fallback time.Duration) time.Duration {
	return parse(key, fallback, func(raw string) (time.Duration, error) {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return 0, err
		}
		return time.Duration(seconds) * time.Second, nil
	})
}

func parse[T any](key string, fallback T, convert func(string) (T, error)) T {
	raw, ok := lookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := convert(raw)
	if err != nil {
		slog.Warn("invalid configuration value, using default", "key", key, "error", err)
		return fallback
	}
	return value
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
