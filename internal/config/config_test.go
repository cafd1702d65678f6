package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
identifier = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
relays = ["wss://relay.damus.io", "wss://nos.lol"]
interval_minutes = 15
vault_dir = "/srv/vault"
timezone = "Europe/Berlin"
relay_timeout = "5s"

[control]
listen = "127.0.0.1:8787"
jwt_secret = "s3cret"

[log]
file = "/var/log/relayjournal.log"
compress = true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayjournal.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDecodesFileAndDerivesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"wss://relay.damus.io", "wss://nos.lol"}, cfg.Relays)
	assert.Equal(t, 15*time.Minute, cfg.Interval())
	assert.Equal(t, DefaultIntervalJitter, cfg.IntervalJitter)
	assert.Equal(t, "Nostr", cfg.NotesFolder)
	assert.Equal(t, "#nostr", cfg.Marker)
	assert.Equal(t, filepath.Join("/srv/vault", ".relayjournal"), cfg.StateDir)
	assert.Equal(t, "file:///srv/vault/.relayjournal", cfg.LedgerDSN)
	assert.Equal(t, 5*time.Second, cfg.RelayTimeout.Duration)
	assert.True(t, cfg.VerifySignatures)
	assert.Equal(t, "127.0.0.1:8787", cfg.Control.Listen)
	assert.Equal(t, 30, cfg.Control.RateLimitMax)
	assert.Equal(t, time.Minute, cfg.Control.RateLimitWindow.Duration)
	assert.True(t, cfg.Log.Compress)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("RELAYJOURNAL_VAULT_DIR", "/tmp/vault")
	t.Setenv("RELAYJOURNAL_RELAYS", "wss://a.example, wss://b.example,wss://a.example")
	t.Setenv("RELAYJOURNAL_INTERVAL_MINUTES", "5")
	t.Setenv("RELAYJOURNAL_VERIFY_SIGNATURES", "false")
	t.Setenv("RELAYJOURNAL_LEDGER_DSN", "sqlite:///tmp/ledger.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/vault", cfg.VaultDir)
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.Relays)
	assert.Equal(t, 5, cfg.IntervalMinutes)
	assert.False(t, cfg.VerifySignatures)
	assert.Equal(t, "sqlite:///tmp/ledger.db", cfg.LedgerDSN)
}

func TestApplyEnvIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("RELAYJOURNAL_INTERVAL_MINUTES", "often")
	t.Setenv("RELAYJOURNAL_INTERVAL_JITTER", "lots")
	t.Setenv("RELAYJOURNAL_RELAY_TIMEOUT", "soon")
	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, DefaultIntervalMinutes, cfg.IntervalMinutes)
	assert.Equal(t, DefaultIntervalJitter, cfg.IntervalJitter)
	assert.Equal(t, DefaultRelayTimeout, cfg.RelayTimeout.Duration)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "vault_dir = \"/v\"\nintervalMinutes = 3\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "intervalMinutes")
}

func TestValidateReportsProblems(t *testing.T) {
	cases := map[string]func(*Config){
		"missing vault":     func(c *Config) { c.VaultDir = "" },
		"zero interval":     func(c *Config) { c.IntervalMinutes = 0 },
		"jitter too large":  func(c *Config) { c.IntervalJitter = 1.5 },
		"bad timezone":      func(c *Config) { c.Timezone = "Mars/Olympus" },
		"http relay":        func(c *Config) { c.Relays = []string{"https://relay.example"} },
		"control no secret": func(c *Config) { c.Control.Listen = ":8787" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.VaultDir = "/v"
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateAllowsMissingIdentifier(t *testing.T) {
	cfg := Default()
	cfg.VaultDir = "/v"
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
}

func TestLocation(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	cfg.Timezone = "Local"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestParseRelayList(t *testing.T) {
	assert.Equal(t,
		[]string{"wss://a", "wss://b", "wss://c"},
		ParseRelayList(" wss://a,,wss://b\nwss://c wss://a "),
	)
	assert.Empty(t, ParseRelayList(" , "))
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "vault_dir = \"/v\"\ninterval_minutes = 30\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 4)
	require.NoError(t, Watch(ctx, path, nil, func(cfg Config) { changes <- cfg }))

	require.NoError(t, os.WriteFile(path, []byte("vault_dir = \"/v\"\ninterval_minutes = \"broken\"\n"), 0o644))
	time.Sleep(2 * watchDebounce)
	require.NoError(t, os.WriteFile(path, []byte("vault_dir = \"/v\"\ninterval_minutes = 7\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.IntervalMinutes == 7 {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for config reload")
		}
	}
}
