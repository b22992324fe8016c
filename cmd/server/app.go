package main

import (
	"context"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/export"
	"github.com/nicktill/tinydigest/pkg/ingest"
	"github.com/nicktill/tinydigest/pkg/query"
	"github.com/nicktill/tinydigest/pkg/server"
	"github.com/nicktill/tinydigest/pkg/server/monitor"
	"github.com/nicktill/tinydigest/pkg/storage"
)

// app wires storage, handlers and background tasks together
type app struct {
	cfg    server.Config
	logger *zap.Logger
	store  storage.Storage

	storageMonitor    *monitor.StorageMonitor
	compactionMonitor *monitor.CompactionMonitor

	ingest    *ingest.Handler
	query     *query.Handler
	export    *export.Handler
	hub       *ingest.Hub
	compactor *compaction.Compactor

	router *mux.Router
}

func newApp(cfg server.Config, store storage.Storage, logger *zap.Logger) *app {
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,

		storageMonitor: monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes()),
		// Two missed runs mark compaction stale
		compactionMonitor: monitor.NewCompactionMonitor(2 * config.CompactionInterval),
	}

	a.ingest, a.query, a.export, a.hub = server.InitializeHandlers(cfg, store, a.storageMonitor, logger)
	a.compactor = server.InitializeCompactor(store)

	a.router = mux.NewRouter()
	server.SetupRoutes(a.router, a.ingest, a.query, a.export, a.storageMonitor, a.compactionMonitor, a.hub, cfg.Port)
	return a
}

// runBackground starts the hub, compaction, broadcast and (for badger)
// value log GC. They stop when ctx is done.
func (a *app) runBackground(ctx context.Context, wg *sync.WaitGroup) {
	tasks := []func(){
		func() { a.hub.Run(ctx) },
		func() { server.RunCompaction(ctx, a.compactor, a.compactionMonitor, a.logger.Named("compaction")) },
		func() { server.BroadcastQuantiles(ctx, a.query.Engine(), a.hub, a.logger.Named("broadcast")) },
	}
	if gc, ok := a.store.(server.GarbageCollector); ok {
		tasks = append(tasks, func() { server.RunBadgerGC(ctx, gc, a.logger.Named("gc")) })
	}

	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task()
		}()
	}
}
