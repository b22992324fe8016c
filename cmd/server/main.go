package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/logging"
	"github.com/nicktill/tinydigest/pkg/server"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 60 * time.Second

	// Background tasks get this long after the HTTP server has stopped
	backgroundStopTimeout = 5 * time.Second
)

type flags struct {
	port         string
	dataDir      string
	maxStorageGB int64
	maxMemoryMB  int64
	compression  int
	logLevel     string
	logFormat    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "tinydigest-server",
		Short: "store, compact and query t-digest summaries",
		Long: `tinydigest-server ingests raw values or client-built t-digests,
stores them as time windows in BadgerDB, merges old windows into 5m and 1h
resolutions, and answers quantile queries over any range.

Configuration comes from TINYDIGEST_* environment variables; flags override them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(f.logLevel, f.logFormat)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cfg := server.LoadConfig(logger)
			applyFlags(cmd, f, &cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.port, "port", config.DefaultPort, "HTTP port (env TINYDIGEST_PORT or PORT)")
	fs.StringVar(&f.dataDir, "data-dir", config.DefaultDataDir, "BadgerDB directory (env TINYDIGEST_DATA_DIR)")
	fs.Int64Var(&f.maxStorageGB, "max-storage-gb", config.DefaultMaxStorageGB, "reject writes past this disk usage (env TINYDIGEST_MAX_STORAGE_GB)")
	fs.Int64Var(&f.maxMemoryMB, "max-memory-mb", config.DefaultMaxMemoryMB, "BadgerDB memory budget, 0 for defaults (env TINYDIGEST_MAX_MEMORY_MB)")
	fs.IntVar(&f.compression, "compression", config.DefaultCompression, "compression of digests built from raw values (env TINYDIGEST_COMPRESSION)")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	fs.StringVar(&f.logFormat, "log-format", logging.FormatJSON, "log format: json|console")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), server.Version)
		},
	})

	return cmd
}

// applyFlags copies explicitly set flags over the environment config
func applyFlags(cmd *cobra.Command, f flags, cfg *server.Config) {
	fs := cmd.Flags()
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if fs.Changed("max-storage-gb") {
		cfg.MaxStorageGB = f.maxStorageGB
	}
	if fs.Changed("max-memory-mb") {
		cfg.MaxMemoryMB = f.maxMemoryMB
	}
	if fs.Changed("compression") {
		cfg.Compression = f.compression
	}
}

func run(ctx context.Context, cfg server.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Info("starting tinydigest server",
		zap.String("version", server.Version),
		zap.String("data_dir", cfg.DataDir),
		zap.Int64("max_storage_gb", cfg.MaxStorageGB),
		zap.Int64("max_memory_mb", cfg.MaxMemoryMB),
		zap.Int("compression", cfg.Compression))

	store, err := server.InitializeStorage(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	a := newApp(cfg, store, logger)

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	var wg sync.WaitGroup
	a.runBackground(bgCtx, &wg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		cancelBackground()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}

	// Background tasks stop before storage closes
	cancelBackground()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("background tasks stopped")
	case <-time.After(backgroundStopTimeout):
		logger.Warn("background tasks did not stop in time")
	}

	logger.Info("tinydigest server exited")
	return nil
}
