package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nadalpiantini/omnidrive/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("FileOverDefaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
jobs:
  driver: postgres
  dsn: postgres://omni@localhost/omni
  workers: 4
  timeout: 5m
s3:
  bucket: backups
`)
		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "postgres", cfg.Jobs.Driver)
		assert.Equal(t, 4, cfg.Jobs.Workers)
		assert.Equal(t, 5*time.Minute, cfg.Jobs.Timeout)
		assert.Equal(t, "backups", cfg.S3.Bucket)
		assert.Equal(t, "us-east-1", cfg.S3.Region)
		assert.Equal(t, 5*time.Minute, cfg.Cache.ListTTL)
		assert.Equal(t, "https://api.deepseek.com", cfg.Embeddings.BaseURL)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "server: [port"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing")
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		t.Setenv("OMNIDRIVE_SERVER_PORT", "7000")
		t.Setenv("OMNIDRIVE_EMBEDDINGS_API_KEY", "")
		t.Setenv("DEEPSEEK_API_KEY", "sk-test")
		t.Setenv("OMNIDRIVE_S3_BUCKET", "from-env")
		cfg, err := config.Load(writeConfig(t, "server:\n  port: 9090\ns3:\n  bucket: from-file\n"))
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, "sk-test", cfg.Embeddings.APIKey)
		assert.Equal(t, "from-env", cfg.S3.Bucket)
	})

	t.Run("DefaultLocationMayBeAbsent", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Jobs.Driver)
		assert.Equal(t, 8000, cfg.Server.Port)
	})

	t.Run("SessionsDir", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Setenv("OMNIDRIVE_SESSIONS_DIR", "")
		cfg, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, config.Dir, "memory"), cfg.Sessions.Dir)

		t.Setenv("OMNIDRIVE_SESSIONS_DIR", "/tmp/omni-sessions")
		cfg, err = config.Load("")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/omni-sessions", cfg.Sessions.Dir)
	})
}

func TestValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		assert.NoError(t, config.Defaults().Validate())
	})

	t.Run("CollectsEveryError", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Server.Port = 0
		cfg.Jobs.Driver = "postgres"
		cfg.RAG.TopK = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.port")
		assert.Contains(t, err.Error(), "jobs.dsn")
		assert.Contains(t, err.Error(), "rag.top_k")
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Jobs.Driver = "redis"
		assert.ErrorContains(t, cfg.Validate(), `jobs.driver "redis"`)
	})
}
