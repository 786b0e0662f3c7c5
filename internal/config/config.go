// Package config provides configuration helpers for soundscape commands.
package config

import "os"

// Defaults for the generation backend and local status server.
const (
	DefaultBackendURL = "http://localhost:8188"
	DefaultListenAddr = ":7860"
)

// BackendURL returns the backend base URL from BACKEND_URL env var.
// Falls back to the provided default, or DefaultBackendURL if empty.
func BackendURL(defaultURL string) string {
	if url := os.Getenv("BACKEND_URL"); url != "" {
		return url
	}
	if defaultURL != "" {
		return defaultURL
	}
	return DefaultBackendURL
}

// ListenAddr returns the status server address from LISTEN_ADDR env var.
func ListenAddr(defaultAddr string) string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	if defaultAddr != "" {
		return defaultAddr
	}
	return DefaultListenAddr
}

// LogLevel returns the log level from LOG_LEVEL env var or "info".
func LogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}
