/*
Package storage provides the pluggable storage abstraction for digest windows.

# Storage Interface

Backends store Windows: one t-digest per series per time window.

  - memory: In-memory storage for testing and ephemeral workloads
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

	type Storage interface {
	    Write(ctx context.Context, windows []Window) error
	    Query(ctx context.Context, req QueryRequest) ([]Window, error)
	    Delete(ctx context.Context, opts DeleteOptions) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Resolution Levels

  - Raw (ResolutionRaw): one digest per ingested batch
  - 5-minute (Resolution5m): raw digests of a series merged per 5 minutes
  - 1-hour (Resolution1h): 5m digests merged per hour

A window is identified by series, resolution and timestamp. Writing the
same identity twice replaces the first write, which keeps compaction
idempotent.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	d := tdigest.New(100)
	d.Add(12.5, 40.1, 7.3)

	err = store.Write(ctx, []storage.Window{{
	    Name:       "http_latency_ms",
	    Labels:     map[string]string{"route": "/api"},
	    Timestamp:  time.Now(),
	    Resolution: storage.ResolutionRaw,
	    Digest:     d,
	}})

	windows, err := store.Query(ctx, storage.QueryRequest{
	    Start: time.Now().Add(-time.Hour),
	    End:   time.Now(),
	    Names: []string{"http_latency_ms"},
	})
	merged := tdigest.Merge(digestsOf(windows)...)
	p99 := merged.Quantile(0.99)
*/
package storage
