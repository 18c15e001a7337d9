// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds the engine's own ambient knobs: pool sizing, keepalive,
// cache bounds, and default timeouts. It is distinct from the excluded
// YAML/CUE command-configuration DSL — Config only tunes this package's
// runtime behavior, never what commands run.
type Config struct {
	Logger *log.Logger

	// SSH pool tuning; zero fields fall back to ssh.Pool's own defaults.
	SSHMaxPerHost        int
	SSHMaxTotal          int
	SSHMaxIdle           time.Duration
	SSHKeepaliveInterval time.Duration
	SSHAcquireTimeout    time.Duration

	// CacheMaxEntries bounds the in-memory result cache; <= 0 is unbounded.
	CacheMaxEntries int
	// CacheDir is recorded by WithCacheDir but not read by the engine: the
	// result cache is held in memory only and does not survive a restart.
	CacheDir string

	// DefaultTimeout applies to any Command that leaves Timeout unset (0)
	// and whose context frame also leaves it unset. Zero means no default.
	DefaultTimeout time.Duration

	// MockAdapter, if set, is preferred by autodetection ahead of local,
	// matching spec.md's "mock (if configured) -> local" autodetect order.
	MockAdapter Adapter

	// loadErr carries a WithConfigFile failure through to New, which
	// returns it as the error half of NewWithError's return value.
	loadErr error
}

// Option configures a Config during New.
type Option func(*Config)

// WithLogger sets the engine's structured logger. The event bus logs
// recovered handler panics to it and the engine logs a config file that
// failed to load; adapters receive no logger. The default is a leveled
// logger writing to os.Stderr at log.WarnLevel.
func WithLogger(logger *log.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithSSHPool sets the SSH connection pool's bounds and timers.
func WithSSHPool(maxPerHost, maxTotal int, maxIdle, keepalive, acquireTimeout time.Duration) Option {
	return func(c *Config) {
		c.SSHMaxPerHost = maxPerHost
		c.SSHMaxTotal = maxTotal
		c.SSHMaxIdle = maxIdle
		c.SSHKeepaliveInterval = keepalive
		c.SSHAcquireTimeout = acquireTimeout
	}
}

// WithCacheMaxEntries bounds the in-memory result cache by entry count.
func WithCacheMaxEntries(n int) Option {
	return func(c *Config) { c.CacheMaxEntries = n }
}

// WithCacheDir sets Config.CacheDir. The engine does not read it; cached
// results are kept in memory only.
func WithCacheDir(dir string) Option {
	return func(c *Config) { c.CacheDir = dir }
}

// WithDefaultTimeout sets the timeout applied to commands that specify none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Config) { c.DefaultTimeout = d }
}

// WithMockAdapter registers a test-double adapter that autodetection
// prefers over local.
func WithMockAdapter(a Adapter) Option {
	return func(c *Config) { c.MockAdapter = a }
}

func defaultConfig() *Config {
	return &Config{
		Logger: log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel}),
	}
}
