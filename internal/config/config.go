// Package config loads relayjournal settings from a TOML file and
// RELAYJOURNAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultIntervalMinutes = 30
	DefaultIntervalJitter  = 0.1
	DefaultNotesFolder     = "Nostr"
	DefaultMarker          = "#nostr"
	DefaultTimezone        = "UTC"
	DefaultRelayTimeout    = 10 * time.Second
	DefaultStateDirName    = ".relayjournal"
)

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Identifier       string   `toml:"identifier"`
	Relays           []string `toml:"relays"`
	IntervalMinutes  int      `toml:"interval_minutes"`
	IntervalJitter   float64  `toml:"interval_jitter"`
	VaultDir         string   `toml:"vault_dir"`
	NotesFolder      string   `toml:"notes_folder"`
	Marker           string   `toml:"marker"`
	Timezone         string   `toml:"timezone"`
	StateDir         string   `toml:"state_dir"`
	LedgerDSN        string   `toml:"ledger_dsn"`
	RelayTimeout     Duration `toml:"relay_timeout"`
	VerifySignatures bool     `toml:"verify_signatures"`

	Control ControlConfig `toml:"control"`
	Log     LogConfig     `toml:"log"`
}

// ControlConfig configures the HTTP control API. It is off unless Listen is set.
type ControlConfig struct {
	Listen          string   `toml:"listen"`
	JWTSecret       string   `toml:"jwt_secret"`
	RateLimitMax    int      `toml:"rate_limit_max"`
	RateLimitWindow Duration `toml:"rate_limit_window"`
}

// LogConfig enables a rotated log file in addition to stderr.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

func Default() Config {
	return Config{
		IntervalMinutes:  DefaultIntervalMinutes,
		IntervalJitter:   DefaultIntervalJitter,
		NotesFolder:      DefaultNotesFolder,
		Marker:           DefaultMarker,
		Timezone:         DefaultTimezone,
		RelayTimeout:     Duration{DefaultRelayTimeout},
		VerifySignatures: true,
		Control: ControlConfig{
			RateLimitMax:    30,
			RateLimitWindow: Duration{time.Minute},
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path (skipped when empty), applies the environment, fills
// derived defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			sort.Strings(keys)
			return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
		}
	}
	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize trims values and derives StateDir and LedgerDSN from VaultDir.
func (c *Config) Normalize() {
	c.Identifier = strings.TrimSpace(c.Identifier)
	c.Relays = ParseRelayList(strings.Join(c.Relays, ","))
	c.VaultDir = strings.TrimSpace(c.VaultDir)
	c.NotesFolder = strings.Trim(strings.TrimSpace(c.NotesFolder), "/")
	if c.NotesFolder == "" {
		c.NotesFolder = DefaultNotesFolder
	}
	c.Marker = strings.TrimSpace(c.Marker)
	if c.Marker == "" {
		c.Marker = DefaultMarker
	}
	c.Timezone = strings.TrimSpace(c.Timezone)
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	c.StateDir = strings.TrimSpace(c.StateDir)
	if c.StateDir == "" && c.VaultDir != "" {
		c.StateDir = filepath.Join(c.VaultDir, DefaultStateDirName)
	}
	c.LedgerDSN = strings.TrimSpace(c.LedgerDSN)
	if c.LedgerDSN == "" && c.StateDir != "" {
		c.LedgerDSN = "file://" + filepath.ToSlash(c.StateDir)
	}
	if c.RelayTimeout.Duration <= 0 {
		c.RelayTimeout.Duration = DefaultRelayTimeout
	}
}

func (c Config) Validate() error {
	var problems []string
	if c.VaultDir == "" {
		problems = append(problems, "vault_dir is required")
	}
	if c.IntervalMinutes <= 0 {
		problems = append(problems, "interval_minutes must be positive")
	}
	if c.IntervalJitter < 0 || c.IntervalJitter > 1 {
		problems = append(problems, "interval_jitter must be between 0 and 1")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	for _, relay := range c.Relays {
		if err := checkRelayURL(relay); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if c.Control.Listen != "" {
		if strings.TrimSpace(c.Control.JWTSecret) == "" {
			problems = append(problems, "control.jwt_secret is required when control.listen is set")
		}
		if c.Control.RateLimitWindow.Duration < 0 || c.Control.RateLimitMax < 0 {
			problems = append(problems, "control rate limit must not be negative")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves the timezone setting; empty means UTC.
func (c Config) Location() (*time.Location, error) {
	switch strings.TrimSpace(c.Timezone) {
	case "", "UTC", "utc":
		return time.UTC, nil
	case "Local", "local":
		return time.Local, nil
	default:
		return time.LoadLocation(strings.TrimSpace(c.Timezone))
	}
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ParseRelayList splits a comma or whitespace separated relay list, dropping
// blanks and repeats.
func ParseRelayList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	seen := map[string]struct{}{}
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}

func checkRelayURL(relay string) error {
	parsed, err := url.Parse(relay)
	if err != nil {
		return fmt.Errorf("relay %q: %v", relay, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("relay %q must use ws:// or wss://", relay)
	}
	if parsed.Host == "" {
		return fmt.Errorf("relay %q has no host", relay)
	}
	return nil
}
