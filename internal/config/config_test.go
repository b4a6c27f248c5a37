package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, 15*time.Minute, cfg.Sync.EditWindow)
	assert.Equal(t, 3, cfg.Sync.PinCapacity)
	assert.Equal(t, "0 * * * *", cfg.Sync.SweepCron)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 20, cfg.DBMaxConnections())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9090"
storage: memory
cors_allowed_origins: "https://a.example, https://b.example"
sync:
  edit_window: 10m
  pin_capacity: 5
`), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PIN_CAPACITY", "4")
	t.Setenv("EDIT_WINDOW", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 4, cfg.Sync.PinCapacity)
	assert.Equal(t, 2*time.Minute, cfg.Sync.EditWindow)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_URL=redis://cache:6379/2\n"), 0o644))
	sub := filepath.Join(dir, "services", "api")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	chdir(t, sub)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("REDIS_URL", "")
	os.Unsetenv("REDIS_URL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cases := map[string]map[string]string{
		"storage":       {"STORAGE": "sqlite"},
		"hmac secret":   {"AUTH_MODE": "hmac"},
		"service url":   {"AUTH_MODE": "service"},
		"jwt secret":    {"AUTH_MODE": "jwt"},
		"auth mode":     {"AUTH_MODE": "magic"},
		"cron":          {"PIN_SWEEP_CRON": "every hour"},
		"edit window":   {"EDIT_WINDOW": "soon"},
		"page size":     {"DEFAULT_PAGE_SIZE": "200"},
		"zero capacity": {"PIN_CAPACITY": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
