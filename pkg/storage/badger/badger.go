package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/codec"
	"github.com/nicktill/tinydigest/pkg/storage"
)

const (
	keySize = 17

	// Slow operations are logged past this threshold
	slowQueryThreshold = 5 * time.Second
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	logger *zap.Logger
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	// Recommended: 64-128 MB for local dev, 256-512 MB for production
	MaxMemoryMB int64

	// Logger for slow operations (nil = no logging)
	Logger *zap.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total.
	// Default here is 16 MB memtable plus caches for self-hosted use.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	// Digest windows are small and written once per compaction pass
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Storage{db: db, logger: logger}, nil
}

// Write stores windows in BadgerDB. Windows with the same key overwrite.
func (s *Storage) Write(ctx context.Context, windows []storage.Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, w := range windows {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				value, err := codec.EncodeWindow(w)
				if err != nil {
					return fmt.Errorf("failed to encode window: %w", err)
				}

				if err := txn.Set(makeKey(w), value); err != nil {
					return fmt.Errorf("failed to write window: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves windows matching the request, oldest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []storage.Window
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		startTime := time.Now()
		var iterCount int

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++

				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()

				// Cheap filters from the key before decoding the value
				res8, ts, ok := parseKey(item.Key())
				if !ok {
					continue
				}
				if ts.Before(req.Start) || ts.After(req.End) {
					continue
				}
				if req.Resolution != nil && res8 != *req.Resolution {
					continue
				}

				err := item.Value(func(val []byte) error {
					w, err := codec.DecodeWindow(val)
					if err != nil {
						return err
					}
					if req.Matches(w) {
						res.results = append(res.results, w)
					}
					return nil
				})
				if err != nil {
					return fmt.Errorf("failed to decode window: %w", err)
				}
			}
			return nil
		})

		if elapsed := time.Since(startTime); elapsed > slowQueryThreshold {
			s.logger.Warn("slow window query",
				zap.Duration("elapsed", elapsed),
				zap.Int("iterations", iterCount),
				zap.Int("results", len(res.results)),
				zap.Error(res.err))
		}

		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		sortWindows(res.results)
		if req.Limit > 0 && len(res.results) > req.Limit {
			res.results = res.results[:req.Limit]
		}
		return res.results, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes windows matching the deletion criteria. Both filters are
// read from the key, so values are never loaded.
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var keysToDelete [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = false

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				res, ts, ok := parseKey(item.Key())
				if !ok {
					continue
				}
				if !ts.Before(opts.Before) {
					continue
				}
				if opts.Resolution != nil && res != *opts.Resolution {
					continue
				}

				keysToDelete = append(keysToDelete, item.KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			done <- err
			return
		}

		// WriteBatch splits large deletes across transactions
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keysToDelete {
			if err := wb.Delete(key); err != nil {
				done <- fmt.Errorf("failed to delete window: %w", err)
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		var res statsResult
		stats := &storage.Stats{}

		res.err = s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			series := make(map[uint64]struct{})
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				item := it.Item()
				key := item.Key()
				_, ts, ok := parseKey(key)
				if !ok {
					continue
				}

				stats.TotalWindows++
				series[binary.BigEndian.Uint64(key[0:8])] = struct{}{}

				if stats.OldestWindow.IsZero() || ts.Before(stats.OldestWindow) {
					stats.OldestWindow = ts
				}
				if stats.NewestWindow.IsZero() || ts.After(stats.NewestWindow) {
					stats.NewestWindow = ts
				}

				err := item.Value(func(val []byte) error {
					w, err := codec.DecodeWindow(val)
					if err != nil {
						return err
					}
					stats.TotalCount += w.Digest.Count()
					return nil
				})
				if err != nil {
					return fmt.Errorf("failed to decode window: %w", err)
				}
			}

			stats.TotalSeries = uint64(len(series))
			return nil
		})

		if res.err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}

		res.stats = stats
		done <- res
	}()

	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a sortable key.
// Format: [series_hash (8 bytes)][resolution (1 byte)][timestamp (8 bytes)]
func makeKey(w storage.Window) []byte {
	key := make([]byte, keySize)
	binary.BigEndian.PutUint64(key[0:8], storage.SeriesHash(w.Name, w.Labels))
	key[8] = resolutionByte(w.Resolution)
	binary.BigEndian.PutUint64(key[9:17], uint64(w.Timestamp.UnixNano()))
	return key
}

// parseKey extracts resolution and timestamp from a storage key
func parseKey(key []byte) (storage.Resolution, time.Time, bool) {
	if len(key) != keySize {
		return "", time.Time{}, false
	}
	res, ok := resolutionFromByte(key[8])
	if !ok {
		return "", time.Time{}, false
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(key[9:17])))
	return res, ts, true
}

func resolutionByte(r storage.Resolution) byte {
	switch r {
	case storage.Resolution5m:
		return 1
	case storage.Resolution1h:
		return 2
	default:
		return 0
	}
}

func resolutionFromByte(b byte) (storage.Resolution, bool) {
	switch b {
	case 0:
		return storage.ResolutionRaw, true
	case 1:
		return storage.Resolution5m, true
	case 2:
		return storage.Resolution1h, true
	}
	return "", false
}

func sortWindows(ws []storage.Window) {
	sort.Slice(ws, func(i, j int) bool {
		if !ws[i].Timestamp.Equal(ws[j].Timestamp) {
			return ws[i].Timestamp.Before(ws[j].Timestamp)
		}
		return ws[i].SeriesKey() < ws[j].SeriesKey()
	})
}
