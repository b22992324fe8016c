package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"TINYDIGEST_MAX_STORAGE_GB", "TINYDIGEST_MAX_MEMORY_MB", "TINYDIGEST_COMPRESSION",
		"TINYDIGEST_DATA_DIR", "TINYDIGEST_PORT", "PORT",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig(zap.NewNop())
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, config.DefaultCompression, cfg.Compression)
}

func TestLoadConfig_Env(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("TINYDIGEST_MAX_STORAGE_GB", "4")
	t.Setenv("TINYDIGEST_MAX_MEMORY_MB", "128")
	t.Setenv("TINYDIGEST_COMPRESSION", "200")
	t.Setenv("TINYDIGEST_DATA_DIR", dir)
	t.Setenv("TINYDIGEST_PORT", "")
	t.Setenv("PORT", "9090")

	cfg := LoadConfig(zap.NewNop())
	assert.Equal(t, int64(4), cfg.MaxStorageGB)
	assert.Equal(t, int64(4)<<30, cfg.MaxStorageBytes())
	assert.Equal(t, int64(128), cfg.MaxMemoryMB)
	assert.Equal(t, 200, cfg.Compression)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "9090", cfg.Port)

	t.Setenv("TINYDIGEST_PORT", "7070")
	assert.Equal(t, "7070", LoadConfig(zap.NewNop()).Port)

	require.NoError(t, cfg.Validate())
	assert.DirExists(t, dir)
}

func TestLoadConfig_InvalidValueKeepsDefault(t *testing.T) {
	t.Setenv("TINYDIGEST_MAX_STORAGE_GB", "lots")
	t.Setenv("TINYDIGEST_COMPRESSION", "1e3")

	cfg := LoadConfig(zap.NewNop())
	assert.Equal(t, int64(config.DefaultMaxStorageGB), cfg.MaxStorageGB)
	assert.Equal(t, config.DefaultCompression, cfg.Compression)
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.DataDir = t.TempDir()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero storage", func(c *Config) { c.MaxStorageGB = 0 }, "max storage"},
		{"negative memory", func(c *Config) { c.MaxMemoryMB = -1 }, "max memory"},
		{"zero compression", func(c *Config) { c.Compression = 0 }, "compression"},
		{"no port", func(c *Config) { c.Port = "" }, "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestInitializeStorage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	store, err := InitializeStorage(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
