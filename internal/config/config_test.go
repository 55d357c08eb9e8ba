package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, "https://static.rust-lang.org", cfg.Dist.BaseURL)
	assert.Equal(t, "manifests.txt", cfg.Dist.ManifestsPath)
	assert.Equal(t, 60*time.Second, cfg.Dist.Timeout)
	assert.Equal(t, "./rust_versions.sqlite3", cfg.Storage.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9000
sync:
  interval: 30m
  workers: 4
  limit: 10
dist:
  base_url: https://mirror.example.org
  timeout: 5s
storage:
  path: /var/lib/rustdist/catalog.sqlite3
log:
  level: debug
  filename: logs/rustdist.log
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 10, cfg.Sync.Limit)
	assert.Equal(t, "https://mirror.example.org", cfg.Dist.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Dist.Timeout)
	assert.Equal(t, "manifests.txt", cfg.Dist.ManifestsPath, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/rustdist/catalog.sqlite3", cfg.Storage.Path)
	assert.Equal(t, "logs/rustdist.log", cfg.Log.Filename)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("sync: [workers"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RUSTDIST_DATABASE": "/tmp/other.sqlite3",
		"RUSTDIST_WORKERS":  "3",
		"LOG_LEVEL":         "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "/tmp/other.sqlite3", cfg.Storage.Path)
	assert.Equal(t, 3, cfg.Sync.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)

	env["RUSTDIST_WORKERS"] = "many"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Sync.Workers = 0
	assert.ErrorContains(t, cfg.Validate(), "sync.workers")

	cfg = Default()
	cfg.Log.Level = "verbose"
	assert.ErrorContains(t, cfg.Validate(), "log level")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RUSTDIST_DATABASE", "RUSTDIST_WORKERS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  workers: 2\n"), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Sync.Workers)
}

func TestLoad_DefaultPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPath), []byte("server:\n  port: 9090\n"), 0644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadFromFile_MissingUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
