// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xecgo/xec/internal/testutil"
)

func TestWithConfigFile_AppliesSettings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "xec.toml")
	data := []byte(`
[ssh]
max_per_host = 8
max_total = 64
keepalive_interval = "45s"

[cache]
max_entries = 500
dir = "/var/cache/xec"

default_timeout = "30s"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := defaultConfig()
	WithConfigFile(path)(cfg)

	if cfg.loadErr != nil {
		t.Fatalf("unexpected load error: %v", cfg.loadErr)
	}
	if cfg.SSHMaxPerHost != 8 {
		t.Fatalf("SSHMaxPerHost = %d, want 8", cfg.SSHMaxPerHost)
	}
	if cfg.SSHMaxTotal != 64 {
		t.Fatalf("SSHMaxTotal = %d, want 64", cfg.SSHMaxTotal)
	}
	if cfg.SSHKeepaliveInterval != 45*time.Second {
		t.Fatalf("SSHKeepaliveInterval = %v, want 45s", cfg.SSHKeepaliveInterval)
	}
	if cfg.CacheMaxEntries != 500 {
		t.Fatalf("CacheMaxEntries = %d, want 500", cfg.CacheMaxEntries)
	}
	if cfg.CacheDir != "/var/cache/xec" {
		t.Fatalf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.DefaultTimeout != 30*time.Second {
		t.Fatalf("DefaultTimeout = %v, want 30s", cfg.DefaultTimeout)
	}
}

func TestWithConfigFile_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	WithConfigFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))(cfg)

	if cfg.loadErr != nil {
		t.Fatalf("expected no error for a missing config file, got %v", cfg.loadErr)
	}
}

func TestWithConfigFile_MalformedFileRecordsLoadErr(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := defaultConfig()
	WithConfigFile(path)(cfg)

	if cfg.loadErr == nil {
		t.Fatal("expected a load error for malformed TOML")
	}
}

func TestWithConfigDiscovery_FindsFileInCwd(t *testing.T) {
	dir := t.TempDir()
	data := []byte("[ssh]\nmax_total = 32\n")
	if err := os.WriteFile(filepath.Join(dir, "xec.toml"), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Cleanup(testutil.MustChdir(t, dir))

	cfg := defaultConfig()
	WithConfigDiscovery()(cfg)

	if cfg.loadErr != nil {
		t.Fatalf("unexpected load error: %v", cfg.loadErr)
	}
	if cfg.SSHMaxTotal != 32 {
		t.Fatalf("SSHMaxTotal = %d, want 32", cfg.SSHMaxTotal)
	}
}

func TestWithConfigDiscovery_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte("[ssh]\nmax_total = 32\n")
	if err := os.WriteFile(filepath.Join(dir, "xec.toml"), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Cleanup(testutil.MustChdir(t, dir))
	t.Setenv("XEC_SSH_MAX_TOTAL", "99")

	cfg := defaultConfig()
	WithConfigDiscovery()(cfg)

	if cfg.loadErr != nil {
		t.Fatalf("unexpected load error: %v", cfg.loadErr)
	}
	if cfg.SSHMaxTotal != 99 {
		t.Fatalf("SSHMaxTotal = %d, want env override 99", cfg.SSHMaxTotal)
	}
}

func TestWithConfigDiscovery_FindsFileInUserConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Cleanup(testutil.SetHomeDir(t, home))
	t.Cleanup(testutil.MustUnsetenv(t, "XDG_CONFIG_HOME"))

	configDir := filepath.Join(home, ".config", "xec")
	testutil.MustMkdirAll(t, configDir, 0o755)
	data := []byte("[ssh]\nmax_total = 17\n")
	if err := os.WriteFile(filepath.Join(configDir, "xec.toml"), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	emptyCwd := t.TempDir()
	t.Cleanup(testutil.MustChdir(t, emptyCwd))

	cfg := defaultConfig()
	WithConfigDiscovery()(cfg)

	if cfg.loadErr != nil {
		t.Fatalf("unexpected load error: %v", cfg.loadErr)
	}
	if cfg.SSHMaxTotal != 17 {
		t.Fatalf("SSHMaxTotal = %d, want 17 from the user config dir file", cfg.SSHMaxTotal)
	}
}

func TestWithConfigDiscovery_NoFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(testutil.MustChdir(t, dir))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "empty-config-home"))

	cfg := defaultConfig()
	WithConfigDiscovery()(cfg)

	if cfg.loadErr != nil {
		t.Fatalf("expected no error when no config file exists, got %v", cfg.loadErr)
	}
}

func TestNewWithError_SurfacesConfigFileFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	e, err := NewWithError(WithConfigFile(path), WithMockAdapter(NewMockAdapter()))
	if err == nil {
		t.Fatal("expected NewWithError to surface the malformed config file")
	}
	if e == nil {
		t.Fatal("expected a usable Engine even when the config file failed to load")
	}
	_ = e.Dispose(context.Background())
}
