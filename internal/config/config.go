// Package config provides configuration helpers for sabia commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults for the sabia daemon.
const (
	DefaultListenAddr = ":8787"
	DefaultModel      = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice      = "Orus"
	DefaultLogLevel   = "info"
)

// GeminiAPIKey returns the Gemini API key from GEMINI_API_KEY.
// Exits with a usage hint if not set.
func GeminiAPIKey() string {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable is required")
		fmt.Fprintln(os.Stderr, "Usage: GEMINI_API_KEY=... go run ./cmd/sabia")
		os.Exit(1)
	}
	return key
}

// ListenAddr returns the HTTP listen address from SABIA_ADDR or the default.
func ListenAddr() string {
	if addr := os.Getenv("SABIA_ADDR"); addr != "" {
		return addr
	}
	return DefaultListenAddr
}

// Model returns the live model name from SABIA_MODEL or the default.
func Model() string {
	if m := os.Getenv("SABIA_MODEL"); m != "" {
		return m
	}
	return DefaultModel
}

// LogLevel returns the log level from SABIA_LOG_LEVEL or the default.
func LogLevel() string {
	if lvl := os.Getenv("SABIA_LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return DefaultLogLevel
}

// DataDir returns the directory for persisted state (personas, history,
// OAuth tokens). Defaults to ~/.sabia.
func DataDir() string {
	if dir := os.Getenv("SABIA_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sabia"
	}
	return filepath.Join(home, ".sabia")
}

// GoogleClientID returns the OAuth client ID for the Drive integration.
// Empty means the knowledge-base tool is disabled.
func GoogleClientID() string {
	return os.Getenv("GOOGLE_CLIENT_ID")
}

// GoogleClientSecret returns the OAuth client secret for the Drive integration.
func GoogleClientSecret() string {
	return os.Getenv("GOOGLE_CLIENT_SECRET")
}
