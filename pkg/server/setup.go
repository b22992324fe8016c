package server

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/export"
	"github.com/nicktill/tinydigest/pkg/ingest"
	"github.com/nicktill/tinydigest/pkg/query"
	"github.com/nicktill/tinydigest/pkg/server/monitor"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/storage/badger"
)

// Config holds server configuration.
type Config struct {
	MaxStorageGB int64
	MaxMemoryMB  int64
	DataDir      string
	Port         string

	// Compression of digests built from raw ingested values
	Compression int
}

// MaxStorageBytes returns the storage limit in bytes.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxStorageGB: config.DefaultMaxStorageGB,
		MaxMemoryMB:  config.DefaultMaxMemoryMB,
		DataDir:      config.DefaultDataDir,
		Port:         config.DefaultPort,
		Compression:  config.DefaultCompression,
	}
}

// LoadConfig applies TINYDIGEST_* environment overrides to the defaults.
// Invalid values are logged and ignored.
func LoadConfig(logger *zap.Logger) Config {
	cfg := DefaultConfig()
	cfg.MaxStorageGB = getEnvInt64(logger, "TINYDIGEST_MAX_STORAGE_GB", cfg.MaxStorageGB)
	cfg.MaxMemoryMB = getEnvInt64(logger, "TINYDIGEST_MAX_MEMORY_MB", cfg.MaxMemoryMB)
	cfg.Compression = int(getEnvInt64(logger, "TINYDIGEST_COMPRESSION", int64(cfg.Compression)))
	if dir := os.Getenv("TINYDIGEST_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	cfg.Port = getPort(cfg.Port)
	return cfg
}

// Validate checks the configuration and creates the data directory.
func (c Config) Validate() error {
	if c.MaxStorageGB <= 0 {
		return fmt.Errorf("max storage must be positive, got %d GB", c.MaxStorageGB)
	}
	if c.MaxMemoryMB < 0 {
		return fmt.Errorf("max memory must not be negative, got %d MB", c.MaxMemoryMB)
	}
	if c.Compression <= 0 {
		return fmt.Errorf("compression must be positive, got %d", c.Compression)
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// InitializeStorage opens BadgerDB storage in the configured data directory.
func InitializeStorage(cfg Config, logger *zap.Logger) (*badger.Storage, error) {
	logger.Info("initializing badger storage",
		zap.String("data_dir", cfg.DataDir),
		zap.Int64("max_memory_mb", cfg.MaxMemoryMB))
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, nil
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(
	cfg Config,
	store storage.Storage,
	storageMonitor *monitor.StorageMonitor,
	logger *zap.Logger,
) (
	*ingest.Handler,
	*query.Handler,
	*export.Handler,
	*ingest.Hub,
) {
	ingestHandler := ingest.NewHandler(store)
	ingestHandler.SetLogger(logger)
	ingestHandler.SetCompression(cfg.Compression)
	if storageMonitor != nil {
		ingestHandler.SetStorageChecker(storageMonitor)
	}

	queryHandler := query.NewHandler(store)
	queryHandler.SetLogger(logger)

	exportHandler := export.NewHandler(store)
	exportHandler.SetLogger(logger)

	hub := ingest.NewHub(logger)

	logger.Info("handlers ready", zap.Int("compression", cfg.Compression))
	return ingestHandler, queryHandler, exportHandler, hub
}

// InitializeCompactor creates the compactor.
func InitializeCompactor(store storage.Storage) *compaction.Compactor {
	return compaction.New(store)
}

// getEnvInt64 gets an int64 from an environment variable or returns def.
func getEnvInt64(logger *zap.Logger, key string, def int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		logger.Warn("invalid environment value, using default",
			zap.String("key", key),
			zap.String("value", val),
			zap.Int64("default", def))
		return def
	}
	return parsed
}

// getPort prefers TINYDIGEST_PORT, then PORT.
func getPort(def string) string {
	if port := os.Getenv("TINYDIGEST_PORT"); port != "" {
		return port
	}
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return def
}
