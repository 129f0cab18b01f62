// ABOUTME: Configuration loading and parsing for meshmini
// ABOUTME: Supports YAML files with environment variable expansion plus MMB_* overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	// Embed the zone database so TZ resolution works on hosts without
	// a system zoneinfo directory.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config represents the complete meshmini configuration.
// Every field has a working default; a config file and MMB_* environment
// overrides are both optional.
type Config struct {
	// DB is the SQLite store path.
	DB string `yaml:"db"`
	// Device is the serial device path, or "auto" to probe candidates.
	Device string `yaml:"device"`
	// Name is the display name used in the menu and health output.
	Name string `yaml:"name"`

	// Admins and Peers seed the corresponding tables at startup (CSV in env form).
	Admins []string `yaml:"admins"`
	Peers  []string `yaml:"peers"`

	// RateSec is the per-sender cooldown in seconds.
	RateSec int `yaml:"rate"`
	// MaxText is the MTU used by the pager and menu shrink.
	MaxText int `yaml:"max_text"`
	// TxGapSec is the minimum interval between outbound frames, in seconds.
	TxGapSec float64 `yaml:"tx_gap"`

	HealthPublic bool `yaml:"health_public"`
	UnknownReply bool `yaml:"unknown_reply"`

	Sync          bool `yaml:"sync"`
	SyncInv       int  `yaml:"sync_inv"`
	SyncPeriodSec int  `yaml:"sync_period"`
	SyncChunk     int  `yaml:"sync_chunk"`

	RxStaleSec   int `yaml:"rx_stale_sec"`
	WatchTickSec int `yaml:"watch_tick"`

	// TZ is the zone used for notice and post timestamp presentation.
	// Persisted timestamps are always UTC seconds.
	TZ string `yaml:"tz"`

	// DMTTLHours hides undelivered store-and-forward rows older than this.
	DMTTLHours int `yaml:"dm_ttl_hours"`

	Logging LoggingConfig `yaml:"logging"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HealthConfig holds the optional local health endpoint configuration
type HealthConfig struct {
	// Addr is a host:port to serve plain-text health on; empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		DB:            "board.db",
		Device:        "auto",
		Name:          "MeshLink BBS",
		RateSec:       2,
		MaxText:       140,
		TxGapSec:      1.0,
		UnknownReply:  true,
		Sync:          true,
		SyncInv:       15,
		SyncPeriodSec: 300,
		SyncChunk:     160,
		RxStaleSec:    240,
		WatchTickSec:  10,
		TZ:            "Pacific/Auckland",
		DMTTLHours:    72,
		Logging:       LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path, expands ${VAR} references,
// applies MMB_* environment overrides, and validates the result.
// A missing file is not an error: the defaults plus environment are used,
// matching env-only deployments.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// env-only mode
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv layers MMB_* environment overrides on top of the file values.
// The names follow the documented tunable names.
func (c *Config) applyEnv() {
	envStr(&c.DB, "MMB_DB")
	envStr(&c.Device, "MMB_DEVICE")
	envStr(&c.Name, "MMB_NAME")
	envCSV(&c.Admins, "MMB_ADMINS")
	envCSV(&c.Peers, "MMB_PEERS")
	envInt(&c.RateSec, "MMB_RATE")
	envInt(&c.MaxText, "MMB_MAX_TEXT")
	envFloat(&c.TxGapSec, "MMB_TX_GAP")
	envBool(&c.HealthPublic, "MMB_HEALTH_PUBLIC")
	envBool(&c.UnknownReply, "MMB_UNKNOWN_REPLY")
	envBool(&c.Sync, "MMB_SYNC")
	envInt(&c.SyncInv, "MMB_SYNC_INV")
	envInt(&c.SyncPeriodSec, "MMB_SYNC_PERIOD")
	envInt(&c.SyncChunk, "MMB_SYNC_CHUNK")
	envInt(&c.RxStaleSec, "MMB_RX_STALE_SEC")
	envInt(&c.WatchTickSec, "MMB_WATCH_TICK")
	envStr(&c.TZ, "MMB_TZ")
	envInt(&c.DMTTLHours, "MMB_SF_TTL_HOURS")
	envStr(&c.Logging.Level, "MMB_LOG_LEVEL")
	envStr(&c.Logging.Format, "MMB_LOG_FORMAT")
	envStr(&c.Health.Addr, "MMB_HEALTH_ADDR")
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envCSV(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.TrimSpace(v) {
		case "1", "true", "yes":
			*dst = true
		case "0", "false", "no":
			*dst = false
		}
	}
}

// Validate checks that all tunables are usable.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.DB == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Device == "" {
		return fmt.Errorf("device is required (path or \"auto\")")
	}
	if c.MaxText < 12 {
		return fmt.Errorf("max_text must be at least 12, got %d", c.MaxText)
	}
	if c.RateSec < 0 {
		return fmt.Errorf("rate must not be negative, got %d", c.RateSec)
	}
	if c.TxGapSec < 0 {
		return fmt.Errorf("tx_gap must not be negative, got %g", c.TxGapSec)
	}
	if c.SyncInv < 1 {
		return fmt.Errorf("sync_inv must be at least 1, got %d", c.SyncInv)
	}
	if c.SyncPeriodSec < 1 {
		return fmt.Errorf("sync_period must be at least 1, got %d", c.SyncPeriodSec)
	}
	if c.SyncChunk < 1 {
		return fmt.Errorf("sync_chunk must be at least 1, got %d", c.SyncChunk)
	}
	if c.WatchTickSec < 1 {
		return fmt.Errorf("watch_tick must be at least 1, got %d", c.WatchTickSec)
	}
	if c.RxStaleSec < 1 {
		return fmt.Errorf("rx_stale_sec must be at least 1, got %d", c.RxStaleSec)
	}
	if _, err := time.LoadLocation(c.TZ); err != nil {
		return fmt.Errorf("tz %q: %w", c.TZ, err)
	}
	return nil
}

// TxGap returns the minimum inter-transmit interval.
func (c *Config) TxGap() time.Duration {
	return time.Duration(c.TxGapSec * float64(time.Second))
}

// SyncPeriod returns the inventory tick interval.
func (c *Config) SyncPeriod() time.Duration {
	return time.Duration(c.SyncPeriodSec) * time.Second
}

// WatchTick returns the watchdog poll interval.
func (c *Config) WatchTick() time.Duration {
	return time.Duration(c.WatchTickSec) * time.Second
}

// RxStale returns the receive-silence threshold for the watchdog.
func (c *Config) RxStale() time.Duration {
	return time.Duration(c.RxStaleSec) * time.Second
}

// RateWindow returns the per-sender cooldown interval.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateSec) * time.Second
}

// DMTTL returns the store-and-forward expiry horizon.
func (c *Config) DMTTL() time.Duration {
	return time.Duration(c.DMTTLHours) * time.Hour
}

// Location returns the presentation time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
