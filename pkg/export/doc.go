// Package export provides digest backup and restore.
//
// # Formats
//
// JSON exports carry one entry per stored window: the series name and
// labels, the window timestamp and resolution, and the digest in its
// exchanged record form:
//
//	{
//	  "metadata": {"exported_at": "...", "start_time": "...", "end_time": "...",
//	               "window_count": 1, "format": "json", "version": "1.0"},
//	  "windows": [
//	    {
//	      "name": "request_duration_seconds",
//	      "labels": {"route": "/api"},
//	      "timestamp": "2025-11-19T02:30:00Z",
//	      "resolution": "5m",
//	      "digest": {"centroids": [{"mean": 0.12, "weight": 3}], "sum": 0.36,
//	                 "count": 3, "size": 100, "max": 0.2, "min": 0.05}
//	    }
//	  ]
//	}
//
// Binary exports are a MessagePack stream: a version string followed by
// one bin entry per window, each holding the snappy-compressed window
// encoding of package codec. They are smaller and faster to restore.
//
// CSV exports flatten every window into a summary row (count, sum, mean,
// min, max, centroid count, requested quantiles, one column per label
// key). They are for spreadsheets and cannot be imported.
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//   - format: "json", "csv" or "binary" (default: json)
//   - start, end: RFC3339 timestamps (default: the last 24h, at most 30 days)
//   - name: series name filter (optional)
//   - resolution: raw, 5m or 1h (optional)
//   - q: CSV quantile columns (optional)
//
// Import endpoint: POST /v1/import, with Content-Type application/json or
// application/x-msgpack.
//
//	curl "http://localhost:8080/v1/export?format=binary" -o backup.bin
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: application/x-msgpack" --data-binary @backup.bin
//
// # Validation
//
// Import rebuilds every digest from its record and skips windows whose
// record is incomplete, whose series fails the ingest limits, or whose
// timestamp is zero, older than 10 years or more than a day ahead. Skipped
// windows are reported in ImportResult.Errors; the rest are written in
// batches. Windows holding an empty digest are counted but not written.
package export
