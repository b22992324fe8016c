// Package parallel builds and merges digests concurrently.
//
// A single Digest is not safe for concurrent use. Work is spread by giving
// each goroutine its own digest and merging the results once at the end.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// Build splits values into shards, summarizes each shard in its own
// goroutine and merges the shard digests. shards <= 0 uses one shard per CPU.
func Build(ctx context.Context, values []float64, shards, compression int) (*tdigest.Digest, error) {
	if len(values) == 0 {
		return tdigest.New(compression), ctx.Err()
	}
	if shards <= 0 {
		shards = runtime.NumCPU()
	}
	shards = min(shards, len(values))

	parts := make([]*tdigest.Digest, shards)
	size := (len(values) + shards - 1) / shards

	g, gctx := errgroup.WithContext(ctx)
	for i := range parts {
		lo := i * size
		hi := min(lo+size, len(values))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d := tdigest.New(compression)
			if lo < hi {
				d.Add(values[lo:hi]...)
			}
			parts[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return tdigest.Merge(parts...), nil
}

// MergeGroups merges every group of digests into one digest per key, running
// at most limit merges at once (limit <= 0 means no limit). Groups with no
// digests are left out of the result.
func MergeGroups(ctx context.Context, groups map[string][]*tdigest.Digest, limit int) (map[string]*tdigest.Digest, error) {
	out := make(map[string]*tdigest.Digest, len(groups))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for key, digests := range groups {
		if len(digests) == 0 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			merged := tdigest.Merge(digests...)

			mu.Lock()
			out[key] = merged
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
