package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Storage
	WorkingDir string // directory holding the daughter db and log file

	// Cloud
	MotherEndpoint string // cloud database REST endpoint

	// Messaging
	PostOfficePort int // websocket port for notifications, 0 = callback only

	// Audio monitor (host-side master stream)
	MonitorPort int // HTTP port for the monitor UI/streams, 0 = disabled

	// Engine
	Tempo          float64       // initial tempo in BPM
	RequestTimeout time.Duration // default async request timeout
	LogLevel       int           // 0 (debug) .. 5 (fault)
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		WorkingDir:     envStr("CADENZA_WORKING_DIR", "."),
		MotherEndpoint: envStr("CADENZA_MOTHER_URL", "https://app.cadenza.fm"),
		PostOfficePort: envInt("CADENZA_POST_OFFICE_PORT", 5563),
		MonitorPort:    envInt("CADENZA_MONITOR_PORT", 8080),
		Tempo:          envFloat("CADENZA_TEMPO", 120),
		RequestTimeout: time.Duration(envInt("CADENZA_REQUEST_TIMEOUT", 30)) * time.Second,
		LogLevel:       envInt("CADENZA_LOG_LEVEL", 2),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
