// Package config provides configuration management for the streamfetch TUI.
package config

import (
	"os"
	"time"
)

// Config holds the TUI configuration.
type Config struct {
	// ServerURL is the base URL of the streamfetch API.
	ServerURL string
	APIKey    string

	// Refresh intervals
	StatusRefresh time.Duration
	// ReconnectDelay is the pause before the event stream is reopened.
	ReconnectDelay time.Duration

	// MaxEvents bounds the recent events pane.
	MaxEvents int
}

// Load returns configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ServerURL:      getEnv("STREAMFETCH_URL", "http://127.0.0.1:9848"),
		APIKey:         getEnv("STREAMFETCH_API_KEY", ""),
		StatusRefresh:  getDuration("STREAMFETCH_STATUS_REFRESH", 10*time.Second),
		ReconnectDelay: getDuration("STREAMFETCH_RECONNECT_DELAY", 3*time.Second),
		MaxEvents:      200,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
