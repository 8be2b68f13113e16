// Package config loads the discv5d daemon's tunables using koanf/v2: a
// YAML file layered with DISCV5_-prefixed environment variable overrides,
// unmarshaled onto a defaulted Config.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete discv5d configuration.
type Config struct {
	Listen    ListenConfig  `koanf:"listen"`
	Metrics   MetricsConfig `koanf:"metrics"`
	Log       LogConfig     `koanf:"log"`
	Session   SessionConfig `koanf:"session"`
	Lookup    LookupConfig  `koanf:"lookup"`
	Bootnodes []string      `koanf:"bootnodes"`
}

// ListenConfig holds the UDP listener configuration.
type ListenConfig struct {
	// Addr is the UDP listen address (e.g., "0.0.0.0:9000").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "trace", "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SessionConfig holds the Session Service's timing tunables.
type SessionConfig struct {
	Timeout        time.Duration `koanf:"timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RequestRetries int           `koanf:"request_retries"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
}

// LookupConfig holds the Lookup Engine's bounded-parallelism tunables.
type LookupConfig struct {
	// Alpha is the lookup parallelism factor.
	Alpha int `koanf:"alpha"`
	// K is the target result-set size (also the routing table's bucket size).
	K int `koanf:"k"`
	// Beta is the maximum FINDNODE iterations issued to a single peer.
	Beta int `koanf:"beta"`
}

// DefaultConfig returns a Config populated with the defaults named in
// p2p/discover.Config.withDefaults, so a daemon started with no config file
// behaves identically to a Service constructed with a zero-value Config.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr: "0.0.0.0:9000",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			Timeout:        5 * time.Minute,
			RequestTimeout: 500 * time.Millisecond,
			RequestRetries: 3,
			SweepInterval:  30 * time.Second,
		},
		Lookup: LookupConfig{
			Alpha: 3,
			K:     16,
			Beta:  3,
		},
	}
}

// envPrefix is the environment variable prefix for discv5d configuration.
// Variables are named DISCV5_<section>_<key>, e.g. DISCV5_LISTEN_ADDR.
const envPrefix = "DISCV5_"

// Load reads configuration from a YAML file at path, overlays DISCV5_-
// prefixed environment variable overrides, and merges on top of
// DefaultConfig. An empty path skips the file layer (env + defaults only),
// which is what a daemon started with no -config flag gets.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// envKeyMapper transforms DISCV5_SESSION_REQUEST_TIMEOUT -> session.request_timeout.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaults := map[string]any{
		"listen.addr":             d.Listen.Addr,
		"metrics.addr":            d.Metrics.Addr,
		"metrics.path":            d.Metrics.Path,
		"log.level":               d.Log.Level,
		"log.format":              d.Log.Format,
		"session.timeout":         d.Session.Timeout.String(),
		"session.request_timeout": d.Session.RequestTimeout.String(),
		"session.request_retries": d.Session.RequestRetries,
		"session.sweep_interval":  d.Session.SweepInterval.String(),
		"lookup.alpha":            d.Lookup.Alpha,
		"lookup.k":                d.Lookup.K,
		"lookup.beta":             d.Lookup.Beta,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrEmptyListenAddr       = errors.New("listen.addr must not be empty")
	ErrInvalidRequestRetries = errors.New("session.request_retries must be >= 0")
	ErrInvalidAlpha          = errors.New("lookup.alpha must be >= 1")
	ErrInvalidK              = errors.New("lookup.k must be >= 1")
	ErrInvalidBeta           = errors.New("lookup.beta must be >= 1")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Listen.Addr == "" {
		return ErrEmptyListenAddr
	}
	if cfg.Session.RequestRetries < 0 {
		return ErrInvalidRequestRetries
	}
	if cfg.Lookup.Alpha < 1 {
		return ErrInvalidAlpha
	}
	if cfg.Lookup.K < 1 {
		return ErrInvalidK
	}
	if cfg.Lookup.Beta < 1 {
		return ErrInvalidBeta
	}
	return nil
}

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. "trace" maps one step below slog.LevelDebug, matching
// internal/xlog's Trace level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return slog.Level(-8)
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
