package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mycroft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Listener.MinAudioSeconds)
	assert.Equal(t, 1e-10, cfg.Listener.StandupThreshold)
	assert.Equal(t, "wake up", cfg.Listener.StandupWord)
	assert.Equal(t, 3050*time.Millisecond, cfg.Server.ConnectTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
lang: de-de
server:
  url: https://backend.example.com
  read_timeout: 30s
listener:
  wake_word: hey computer
  threshold: 1e-20
  quiet_time: 500ms
bus:
  backend: nats
  nats_urls:
    - nats://a:4222
    - nats://b:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "de-de", cfg.Lang)
	assert.Equal(t, "https://backend.example.com", cfg.Server.URL)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 3050*time.Millisecond, cfg.Server.ConnectTimeout, "untouched keys keep defaults")
	assert.Equal(t, "hey computer", cfg.Listener.WakeWord)
	assert.Equal(t, 1e-20, cfg.Listener.Threshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Listener.QuietTime)
	assert.Equal(t, "wake up", cfg.Listener.StandupWord)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.Bus.NatsURLs)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeFile(t, "server:\n  url: https://from-file.example.com\n")

	t.Setenv("MYCROFT_SERVER_URL", "https://from-env.example.com")
	t.Setenv("MYCROFT_LISTENER_QUEUE_SIZE", "8")
	t.Setenv("MYCROFT_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://from-env.example.com", cfg.Server.URL)
	assert.Equal(t, 8, cfg.Listener.QueueSize)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown identity backend", func(t *testing.T) {
		_, err := Load(writeFile(t, "identity:\n  backend: etcd\n"))
		assert.ErrorContains(t, err, "identity.backend")
	})

	t.Run("redis backend needs an address", func(t *testing.T) {
		_, err := Load(writeFile(t, "identity:\n  backend: redis\n"))
		assert.ErrorContains(t, err, "redis_addr")
	})

	t.Run("unknown bus backend", func(t *testing.T) {
		_, err := Load(writeFile(t, "bus:\n  backend: carrier-pigeon\n"))
		assert.ErrorContains(t, err, "bus.backend")
	})
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "mycroft.yaml")
	fs := afero.NewOsFs()

	require.NoError(t, WriteDefault(fs, path))
	assert.Error(t, WriteDefault(fs, path), "existing files are not overwritten")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandHome("~/.mycroft/identity.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".mycroft/identity.json"), expanded)

	unchanged, err := ExpandHome("/etc/mycroft.json")
	require.NoError(t, err)
	assert.Equal(t, "/etc/mycroft.json", unchanged)
}
