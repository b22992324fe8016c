package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/tinydigest"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	ShutdownTimeout     = 10 * time.Second
)

// Digest defaults
const (
	// DefaultCompression matches tdigest.DefaultCompression
	DefaultCompression = 100
)

// Compaction schedule and retention
const (
	CompactionInterval    = 1 * time.Hour
	CompactionConcurrency = 4
	BadgerGCInterval      = 10 * time.Minute
	BadgerGCDiscardRatio  = 0.5

	// Raw windows are merged into 5m windows once they are RawCompactionDelay
	// old, looking back RawCompactionLookback
	RawCompactionDelay    = 6 * time.Hour
	RawCompactionLookback = 12 * time.Hour

	// 5m windows are merged into 1h windows once they are FiveMinuteCompactionDelay old
	FiveMinuteCompactionDelay = 2 * 24 * time.Hour
	FiveMinuteRetention       = 7 * 24 * time.Hour
	HourRetention             = 365 * 24 * time.Hour

	CompactionMaxRetries = 3
	CompactionRetryDelay = 30 * time.Second
)

// Query timeouts and limits
const (
	QueryTimeout       = 30 * time.Second
	QueryDefaultWindow = 1 * time.Hour
	QueryMaxWindow     = 90 * 24 * time.Hour
	QueryMaxQuantiles  = 32
	QueryMaxWindows    = 100000
	QueryDefaultStep   = 5 * time.Minute
	QueryMaxPoints     = 11000
	SeriesListLimit    = 10000
	SeriesListWindow   = 24 * time.Hour
)

// Ingest timeouts and limits
const (
	IngestTimeout      = 5 * time.Second
	IngestStatsTimeout = 5 * time.Second
	IngestMaxBodyBytes = 10 << 20
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
	ImportBatchSize     = 500
	ImportMaxBodyBytes  = 100 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize   = 1024
	WSWriteBufferSize  = 1024
	WSBroadcastBuffer  = 256
	WSChannelBuffer    = 10
	WSWriteDeadline    = 10 * time.Second
	WSReadDeadline     = 60 * time.Second
	WSPingInterval     = 30 * time.Second
	BroadcastInterval  = 5 * time.Second
	BroadcastWindow    = 5 * time.Minute
	BroadcastMaxSeries = 100
)

// DefaultQuantiles are reported when a request names none
var DefaultQuantiles = []float64{0.5, 0.9, 0.99}
