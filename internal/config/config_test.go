package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 5*time.Minute, cfg.Browser.AcquireTimeout)
	assert.Equal(t, 5*time.Second, cfg.Publish.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Publish.VideoMaxWait)
	assert.Equal(t, 9, cfg.Media.MaxImages)
	assert.Equal(t, 3, cfg.Media.FetchAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Tasks.ExecutionTimeout)
	assert.NotEmpty(t, cfg.Publish.Selectors.PublishButtons)
	assert.NotEmpty(t, cfg.Publish.Selectors.UploadSuccess)
	// a task waiting for the session gives up before its own deadline
	assert.Less(t, cfg.Browser.AcquireTimeout, cfg.Tasks.ExecutionTimeout)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
publish:
  pollInterval: 250ms
tasks:
  batchMaxItems: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("POSTSCRY_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Publish.PollInterval)
	assert.Equal(t, 2, cfg.Tasks.BatchMaxItems)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Minute, cfg.Publish.VideoMaxWait)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
