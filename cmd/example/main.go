package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/logging"
	"github.com/nicktill/tinydigest/pkg/sdk"
	"github.com/nicktill/tinydigest/pkg/sdk/httpx"
)

type options struct {
	addr      string
	serverURL string
	service   string
	apiKey    string
	flush     time.Duration
	simulate  time.Duration
	logLevel  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:          "example",
		Short:        "Demo service that ships request latency digests to tinydigest",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(opts.logLevel, logging.FormatConsole)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":3000", "listen address")
	flags.StringVar(&opts.serverURL, "server", "http://localhost:8080", "tinydigest server base URL")
	flags.StringVar(&opts.service, "service", "example-app", "service label attached to every digest")
	flags.StringVar(&opts.apiKey, "api-key", "", "bearer token for the ingest endpoint")
	flags.DurationVar(&opts.flush, "flush", 5*time.Second, "how often digests are shipped")
	flags.DurationVar(&opts.simulate, "simulate", 3*time.Second, "interval between simulated requests (0 disables)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level")
	return cmd
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	base := strings.TrimRight(opts.serverURL, "/")

	client, err := sdk.New(sdk.ClientConfig{
		Service:    opts.service,
		APIKey:     opts.apiKey,
		Endpoint:   base + "/v1/ingest/digests",
		FlushEvery: opts.flush,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create tinydigest client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tinydigest client: %w", err)
	}
	defer func() {
		if err := client.Stop(); err != nil {
			logger.Warn("final flush failed", zap.Error(err))
		}
	}()

	a := newApp(client, base, opts.service, logger)

	server := &http.Server{
		Addr:              opts.addr,
		Handler:           httpx.Middleware(client)(a.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("example app listening",
			zap.String("addr", opts.addr),
			zap.String("tinydigest", base))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go a.runBackgroundJobs(ctx)
	if opts.simulate > 0 {
		go a.simulateTraffic(ctx, "http://localhost"+listenPort(opts.addr), opts.simulate)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down example app")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// listenPort returns the ":port" part of a listen address
func listenPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ":" + addr
}
