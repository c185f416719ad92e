// Package config holds process configuration for the vitrine binary.
package config

import "os"

// Config holds CLI and server configuration.
type Config struct {
	ArtifactsDir string
	PolicyPath   string
	HistoryDB    string
	ManifestPath string
	Port         string
	OTLPEndpoint string
	LogLevel     string
	LogFormat    string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		ArtifactsDir: envOr("VITRINE_ARTIFACTS_DIR", "artifacts"),
		PolicyPath:   os.Getenv("VITRINE_POLICY"),
		HistoryDB:    os.Getenv("VITRINE_HISTORY_DB"),
		ManifestPath: envOr("VITRINE_MANIFEST", "artifacts_manifest.json"),
		Port:         envOr("PORT", "5001"),
		OTLPEndpoint: os.Getenv("VITRINE_OTLP_ENDPOINT"),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		LogFormat:    envOr("LOG_FORMAT", "json"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
