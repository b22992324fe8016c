package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/nicktill/tinydigest/pkg/codec"
	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// Export formats
const (
	FormatJSON   = "json"
	FormatCSV    = "csv"
	FormatBinary = "binary"
)

const (
	// FormatVersion is written into every export
	FormatVersion = "1.0"

	// binaryMagic opens every binary export
	binaryMagic = "tinydigest-export/" + FormatVersion
)

// Exporter handles exporting digest windows to various formats
type Exporter struct {
	storage storage.Storage
	now     func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Time range to export
	Start time.Time
	End   time.Time

	// Filter by series names (nil = all series)
	Names []string

	// Filter by labels (nil = no label filtering)
	Labels map[string]string

	// Filter by resolution (nil = all resolutions)
	Resolution *storage.Resolution

	// Quantile columns of CSV exports (nil = config.DefaultQuantiles)
	Quantiles []float64
}

// ExportResult contains stats about the export
type ExportResult struct {
	WindowsExported int       `json:"windows_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata describes a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	WindowCount int       `json:"window_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Window is the exchanged form of a stored window: the digest record plus
// the series, time bucket and resolution it belongs to
type Window struct {
	Name       string             `json:"name"`
	Labels     map[string]string  `json:"labels,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Resolution storage.Resolution `json:"resolution"`
	Digest     tdigest.Record     `json:"digest"`
}

// Document is the JSON export layout, also accepted by import
type Document struct {
	Metadata Metadata `json:"metadata"`
	Windows  []Window `json:"windows"`
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]storage.Window, error) {
	windows, err := e.storage.Query(ctx, storage.QueryRequest{
		Start:      opts.Start,
		End:        opts.End,
		Names:      opts.Names,
		Labels:     opts.Labels,
		Resolution: opts.Resolution,
		Limit:      0, // No limit - export everything
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query windows: %w", err)
	}

	out := windows[:0]
	for _, w := range windows {
		if w.Digest != nil {
			out = append(out, w)
		}
	}
	return out, nil
}

func (e *Exporter) result(opts ExportOptions, format string, n int, at time.Time) *ExportResult {
	return &ExportResult{
		WindowsExported: n,
		TimeRange:       fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:          format,
		ExportedAt:      at,
	}
}

// ExportToJSON exports windows as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	windows, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:  e.now(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			WindowCount: len(windows),
			Format:      FormatJSON,
			Version:     FormatVersion,
		},
		Windows: make([]Window, len(windows)),
	}
	for i, win := range windows {
		doc.Windows[i] = Window{
			Name:       win.Name,
			Labels:     win.Labels,
			Timestamp:  win.Timestamp,
			Resolution: win.Resolution,
			Digest:     win.Digest.Record(),
		}
	}

	// Encode as pretty JSON
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return e.result(opts, FormatJSON, len(windows), doc.Metadata.ExportedAt), nil
}

// ExportToCSV exports one summary row per window. CSV exports cannot be
// imported.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	windows, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	quantiles := opts.Quantiles
	if len(quantiles) == 0 {
		quantiles = config.DefaultQuantiles
	}

	writer := csv.NewWriter(w)

	// Collect all unique label keys across all windows for consistent columns
	labelKeys := collectLabelKeys(windows)

	header := []string{"timestamp", "name", "resolution", "count", "sum", "mean", "min", "max", "centroids"}
	for _, q := range quantiles {
		header = append(header, "q"+formatFloat(q))
	}
	header = append(header, labelKeys...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, win := range windows {
		s := compaction.Summarize(win, quantiles)
		row := []string{
			s.Timestamp.Format(time.RFC3339),
			s.Name,
			string(s.Resolution),
			formatFloat(s.Count),
			formatFloat(s.Sum),
			formatFloat(s.Mean),
			formatFloat(s.Min),
			formatFloat(s.Max),
			strconv.Itoa(s.Centroids),
		}
		for _, qv := range s.Quantiles {
			row = append(row, formatFloat(qv.Value))
		}

		// Label values in consistent order, empty if not present
		for _, key := range labelKeys {
			row = append(row, win.Labels[key])
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return e.result(opts, FormatCSV, len(windows), e.now()), nil
}

// ExportToBinary writes a MessagePack stream: a version string followed
// by one bin entry per window holding its codec encoding
func (e *Exporter) ExportToBinary(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	windows, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	mw := msgp.NewWriter(w)
	if err := mw.WriteString(binaryMagic); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, win := range windows {
		frame, err := codec.EncodeWindow(win)
		if err != nil {
			return nil, err
		}
		if err := mw.WriteBytes(frame); err != nil {
			return nil, fmt.Errorf("failed to write window: %w", err)
		}
	}
	if err := mw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}

	return e.result(opts, FormatBinary, len(windows), e.now()), nil
}

// collectLabelKeys gathers all unique label keys from windows and returns them sorted
func collectLabelKeys(windows []storage.Window) []string {
	keySet := make(map[string]bool)
	for _, w := range windows {
		for key := range w.Labels {
			keySet[key] = true
		}
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
