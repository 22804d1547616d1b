package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "strict", cfg.Codec.Policy)
	assert.Equal(t, 10, cfg.Loop.MaxConcurrent)
	assert.Equal(t, 60*time.Second, cfg.Loop.ActionTimeout)
	assert.Equal(t, time.Second, cfg.Loop.GracePeriod)
	assert.Equal(t, []string{"sh", "-c"}, cfg.Executors.Run.Shell)
	assert.Equal(t, 30*time.Second, cfg.Executors.Run.Timeout)
	assert.Equal(t, int64(1<<20), cfg.Executors.Read.MaxBytes)
	assert.Equal(t, 5, cfg.Executors.Recall.Limit)
	assert.Equal(t, MemoryBackendInMemory, cfg.Memory.Backend)
	assert.Equal(t, LogBackendSlog, cfg.Logging.Backend)
	assert.Equal(t, HistoryBackendInMemory, cfg.History.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Zero(t, cfg.Executors.Browse.RateLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFileMatchesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(NewDefaultConfig(), cfg); diff != "" {
		t.Errorf("Load without a file differs from defaults (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "obsmesh.yaml")
		content := `
codec:
  policy: lenient
loop:
  max_concurrent: 3
  action_timeout: 5s
executors:
  run:
    shell: ["bash", "-c"]
memory:
  backend: vector
  collection: notes
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, observation.PolicyLenient, cfg.Policy())
		assert.Equal(t, 3, cfg.Loop.MaxConcurrent)
		assert.Equal(t, 5*time.Second, cfg.Loop.ActionTimeout)
		assert.Equal(t, []string{"bash", "-c"}, cfg.Executors.Run.Shell)
		assert.Equal(t, MemoryBackendVector, cfg.Memory.Backend)
		assert.Equal(t, "notes", cfg.Memory.Collection)
		// untouched keys keep defaults
		assert.Equal(t, 100, cfg.Loop.BufferSize)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "obsmesh.yaml")
		require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_concurrent: 3\n"), 0o600))
		t.Setenv("OBSMESH_LOOP_MAX_CONCURRENT", "7")
		t.Setenv("OBSMESH_CODEC_POLICY", "lenient")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Loop.MaxConcurrent)
		assert.Equal(t, "lenient", cfg.Codec.Policy)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config")
	})

	t.Run("no file uses defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Loop.MaxConcurrent)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "obsmesh.yaml")
		require.NoError(t, os.WriteFile(path, []byte("codec:\n  policy: permissive\n"), 0o600))

		_, err := Load(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, observation.ErrInvalidPolicy)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format must be json or text"},
		{"policy", func(c *Config) { c.Codec.Policy = "" }, "codec.policy"},
		{"concurrency", func(c *Config) { c.Loop.MaxConcurrent = 0 }, "loop.max_concurrent must be a positive integer"},
		{"action timeout", func(c *Config) { c.Loop.ActionTimeout = 0 }, "loop.action_timeout must be positive"},
		{"grace", func(c *Config) { c.Loop.GracePeriod = -time.Second }, "loop.grace_period must not be negative"},
		{"buffer", func(c *Config) { c.Loop.BufferSize = -1 }, "loop.buffer_size must not be negative"},
		{"read max", func(c *Config) { c.Executors.Read.MaxBytes = 0 }, "executors.read.max_bytes must be positive"},
		{"shell", func(c *Config) { c.Executors.Run.Shell = nil }, "executors.run.shell must name a program"},
		{"recall limit", func(c *Config) { c.Executors.Recall.Limit = 0 }, "executors.recall.limit must be a positive integer"},
		{"backend", func(c *Config) { c.Memory.Backend = "redis" }, "memory.backend must be inmemory or vector"},
		{"collection", func(c *Config) {
			c.Memory.Backend = MemoryBackendVector
			c.Memory.Collection = ""
		}, "memory.collection is required"},
		{"log backend", func(c *Config) { c.Logging.Backend = "logrus" }, "logging.backend must be slog or zap"},
		{"rate limit", func(c *Config) { c.Executors.Browse.RateLimit = -1 }, "executors.browse.rate_limit must not be negative"},
		{"burst", func(c *Config) {
			c.Executors.Browse.RateLimit = 2
			c.Executors.Browse.Burst = 0
		}, "executors.browse.burst must be at least 1"},
		{"cache size", func(c *Config) { c.Memory.CacheSize = -1 }, "memory.cache_size must not be negative"},
		{"history backend", func(c *Config) { c.History.Backend = "sqlite" }, "history.backend must be inmemory or postgres"},
		{"dsn", func(c *Config) { c.History.Backend = HistoryBackendPostgres }, "history.dsn is required"},
		{"server addr", func(c *Config) { c.Server.Addr = "" }, "server.addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("collects every problem", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Loop.MaxConcurrent = 0
		cfg.Executors.Recall.Limit = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loop.max_concurrent")
		assert.Contains(t, err.Error(), "executors.recall.limit")
	})
}

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("logging.level", "debug")
	v.Set("loop.grace_period", "250ms")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Loop.GracePeriod)

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LogLevelDebug, lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "obsmesh", lc.Component)
}

func TestNewConfigFromViper_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	v := viper.New()
	SetDefaults(v)
	v.Set("executors.read.root", "~/notes")
	v.Set("memory.persist_path", "/abs/path")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "notes"), cfg.Executors.Read.Root)
	assert.Equal(t, "/abs/path", cfg.Memory.PersistPath)
	assert.Equal(t, "", cfg.Logging.File)
}

func TestPolicyFallback(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Codec.Policy = "bogus"
	assert.Equal(t, observation.PolicyStrict, cfg.Policy())
}
