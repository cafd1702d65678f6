package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const EnvPrefix = "RELAYJOURNAL_"

// ApplyEnv overrides fields from RELAYJOURNAL_* variables. Unparseable values
// are logged and ignored.
func (c *Config) ApplyEnv() {
	c.Identifier = envOrDefault(EnvPrefix+"IDENTIFIER", c.Identifier)
	if raw := strings.TrimSpace(os.Getenv(EnvPrefix + "RELAYS")); raw != "" {
		c.Relays = ParseRelayList(raw)
	}
	c.IntervalMinutes = intEnv(EnvPrefix+"INTERVAL_MINUTES", c.IntervalMinutes)
	c.IntervalJitter = floatEnv(EnvPrefix+"INTERVAL_JITTER", c.IntervalJitter)
	c.VaultDir = envOrDefault(EnvPrefix+"VAULT_DIR", c.VaultDir)
	c.NotesFolder = envOrDefault(EnvPrefix+"NOTES_FOLDER", c.NotesFolder)
	c.Marker = envOrDefault(EnvPrefix+"MARKER", c.Marker)
	c.Timezone = envOrDefault(EnvPrefix+"TIMEZONE", c.Timezone)
	c.StateDir = envOrDefault(EnvPrefix+"STATE_DIR", c.StateDir)
	c.LedgerDSN = envOrDefault(EnvPrefix+"LEDGER_DSN", c.LedgerDSN)
	c.RelayTimeout.Duration = durationEnv(EnvPrefix+"RELAY_TIMEOUT", c.RelayTimeout.Duration)
	c.VerifySignatures = boolEnv(EnvPrefix+"VERIFY_SIGNATURES", c.VerifySignatures)

	c.Control.Listen = envOrDefault(EnvPrefix+"CONTROL_LISTEN", c.Control.Listen)
	c.Control.JWTSecret = envOrDefault(EnvPrefix+"JWT_SECRET", c.Control.JWTSecret)
	c.Control.RateLimitMax = intEnv(EnvPrefix+"RATE_LIMIT_MAX", c.Control.RateLimitMax)
	c.Control.RateLimitWindow.Duration = durationEnv(EnvPrefix+"RATE_LIMIT_WINDOW", c.Control.RateLimitWindow.Duration)

	c.Log.File = envOrDefault(EnvPrefix+"LOG_FILE", c.Log.File)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}
