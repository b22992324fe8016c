/*
Package compaction implements multi-resolution downsampling of digest windows.

Every ingest batch is stored as its own raw window. Because digests merge,
old raw windows can be folded into coarser windows without losing the
ability to answer quantile queries:

	Raw windows      one digest per ingested batch
	5-minute windows one digest per series per 5 minutes
	1-hour windows   one digest per series per hour

A coarser window's digest is tdigest.Merge of the finer windows it covers,
so quantiles over a long range cost one merge per hour instead of one per
batch.

# Schedule

CompactAndCleanup runs hourly:

 1. Raw windows 6-12 hours old are merged into 5m windows.
 2. Raw windows in compacted buckets are deleted.
 3. 5m windows 2-7 days old are merged into 1h windows.
 4. 5m windows older than 7 days are deleted.
 5. 1h windows past HourRetention are deleted.

Ranges are aligned to whole buckets and a bucket is written only once all
its source windows are inside the range, so raw windows are deleted only
after the bucket holding them has been written. Running compaction twice
over the same range writes the same windows again.

# Usage

	store, _ := badger.New(badger.Config{Path: "./data"})
	compactor := compaction.New(store)

	err := compactor.Compact5m(ctx, time.Now().Add(-24*time.Hour), time.Now())

Summarize turns a window into count, sum, mean, min, max and quantiles for
reporting.
*/
package compaction
