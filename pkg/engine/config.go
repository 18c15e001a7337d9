// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// fileConfig is the on-disk shape of the engine's ambient defaults file:
// pool sizing, cache directory, default timeouts. It is intentionally far
// smaller than the excluded command-configuration DSL — nothing here
// describes what to run, only how this package's own runtime behaves.
type fileConfig struct {
	SSH struct {
		MaxPerHost        int    `toml:"max_per_host" mapstructure:"max_per_host"`
		MaxTotal          int    `toml:"max_total" mapstructure:"max_total"`
		MaxIdle           string `toml:"max_idle" mapstructure:"max_idle"`
		KeepaliveInterval string `toml:"keepalive_interval" mapstructure:"keepalive_interval"`
		AcquireTimeout    string `toml:"acquire_timeout" mapstructure:"acquire_timeout"`
	} `toml:"ssh" mapstructure:"ssh"`

	Cache struct {
		MaxEntries int    `toml:"max_entries" mapstructure:"max_entries"`
		Dir        string `toml:"dir" mapstructure:"dir"`
	} `toml:"cache" mapstructure:"cache"`

	DefaultTimeout string `toml:"default_timeout" mapstructure:"default_timeout"`
}

// WithConfigFile loads path as a TOML ambient-defaults file and applies its
// settings ahead of any Option listed after it, so a caller can still
// override individual fields programmatically. A missing file is not an
// error: New proceeds with whatever defaults and later options apply.
func WithConfigFile(path string) Option {
	return func(c *Config) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			c.loadErr = fmt.Errorf("engine: reading config file %s: %w", path, err)
			return
		}
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			c.loadErr = fmt.Errorf("engine: parsing config file %s: %w", path, err)
			return
		}
		applyFileConfig(c, &fc)
	}
}

// WithConfigDiscovery searches the standard locations for an ambient-defaults
// file named "xec.toml" — the user config directory (as reported by
// os.UserConfigDir), then the current directory — and applies the first one
// found, the same way WithConfigFile does for an explicit path. It also
// binds XEC_-prefixed environment variables (e.g. XEC_SSH_MAX_TOTAL) over
// whatever the file sets, so a deployment can override ambient knobs without
// rewriting the file. Finding nothing is not an error.
func WithConfigDiscovery() Option {
	return func(c *Config) {
		v := viper.New()
		v.SetConfigName("xec")
		v.SetConfigType("toml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir + "/xec")
		}
		v.AddConfigPath(".")
		v.SetEnvPrefix("XEC")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if isConfigFileNotFound(err, &notFound) {
				return
			}
			c.loadErr = fmt.Errorf("engine: discovering config file: %w", err)
			return
		}

		var fc fileConfig
		if err := v.Unmarshal(&fc); err != nil {
			c.loadErr = fmt.Errorf("engine: parsing config file %s: %w", v.ConfigFileUsed(), err)
			return
		}
		applyFileConfig(c, &fc)
	}
}

func isConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	e, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = e
	}
	return ok
}

func applyFileConfig(c *Config, fc *fileConfig) {
	if fc.SSH.MaxPerHost > 0 {
		c.SSHMaxPerHost = fc.SSH.MaxPerHost
	}
	if fc.SSH.MaxTotal > 0 {
		c.SSHMaxTotal = fc.SSH.MaxTotal
	}
	if d, err := parseDuration(fc.SSH.MaxIdle); err == nil && d > 0 {
		c.SSHMaxIdle = d
	}
	if d, err := parseDuration(fc.SSH.KeepaliveInterval); err == nil && d > 0 {
		c.SSHKeepaliveInterval = d
	}
	if d, err := parseDuration(fc.SSH.AcquireTimeout); err == nil && d > 0 {
		c.SSHAcquireTimeout = d
	}
	if fc.Cache.MaxEntries > 0 {
		c.CacheMaxEntries = fc.Cache.MaxEntries
	}
	if fc.Cache.Dir != "" {
		c.CacheDir = fc.Cache.Dir
	}
	if d, err := parseDuration(fc.DefaultTimeout); err == nil && d > 0 {
		c.DefaultTimeout = d
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
