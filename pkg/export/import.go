package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tinylib/msgp/msgp"

	"github.com/nicktill/tinydigest/pkg/codec"
	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/ingest"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// Importer handles importing windows from backup files
type Importer struct {
	storage   storage.Storage
	batchSize int
	now       func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{
		storage:   store,
		batchSize: config.ImportBatchSize,
		now:       time.Now,
	}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	WindowsImported int       `json:"windows_imported"`
	WindowsSkipped  int       `json:"windows_skipped"`
	BatchesWritten  int       `json:"batches_written"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports windows from a JSON export. Invalid windows are
// reported in the result and skipped.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	var errs []string
	windows := make([]storage.Window, 0, len(doc.Windows))
	skipped := 0
	for i, w := range doc.Windows {
		win, err := im.toWindow(w)
		if err != nil {
			errs = append(errs, fmt.Sprintf("window %d: %v", i, err))
			continue
		}
		if win.Digest.Empty() {
			skipped++
			continue
		}
		windows = append(windows, win)
	}

	return im.write(ctx, windows, skipped, errs)
}

// ImportFromBinary imports windows from a binary export
func (im *Importer) ImportFromBinary(ctx context.Context, r io.Reader) (*ImportResult, error) {
	mr := msgp.NewReader(r)
	magic, err := mr.ReadString()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if magic != binaryMagic {
		return nil, fmt.Errorf("unsupported export version %q", magic)
	}

	var errs []string
	var windows []storage.Window
	skipped := 0
	var frame []byte
	for i := 0; ; i++ {
		frame, err = mr.ReadBytes(frame[:0])
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read window %d: %w", i, err)
		}

		win, err := codec.DecodeWindow(frame)
		if err == nil {
			err = im.validate(win)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("window %d: %v", i, err))
			continue
		}
		if win.Digest.Empty() {
			skipped++
			continue
		}
		windows = append(windows, win)
	}

	return im.write(ctx, windows, skipped, errs)
}

// write stores windows in batches to avoid overwhelming storage
func (im *Importer) write(ctx context.Context, windows []storage.Window, skipped int, errs []string) (*ImportResult, error) {
	batchCount := 0
	for i := 0; i < len(windows); i += im.batchSize {
		end := min(i+im.batchSize, len(windows))
		if err := im.storage.Write(ctx, windows[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", batchCount, err)
		}
		batchCount++
	}

	timeRange := "empty"
	if len(windows) > 0 {
		minTime, maxTime := windows[0].Timestamp, windows[0].Timestamp
		for _, w := range windows {
			if w.Timestamp.Before(minTime) {
				minTime = w.Timestamp
			}
			if w.Timestamp.After(maxTime) {
				maxTime = w.Timestamp
			}
		}
		timeRange = fmt.Sprintf("%s to %s", minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))
	}

	return &ImportResult{
		WindowsImported: len(windows),
		WindowsSkipped:  skipped,
		BatchesWritten:  batchCount,
		TimeRange:       timeRange,
		ImportedAt:      im.now(),
		Errors:          errs,
	}, nil
}

// toWindow validates an exchanged window and rebuilds its digest
func (im *Importer) toWindow(w Window) (storage.Window, error) {
	if w.Resolution == "" {
		w.Resolution = storage.ResolutionRaw
	}

	d, err := tdigest.FromRecord(w.Digest)
	if err != nil {
		return storage.Window{}, err
	}

	win := storage.Window{
		Name:       w.Name,
		Labels:     w.Labels,
		Timestamp:  w.Timestamp,
		Resolution: w.Resolution,
		Digest:     d,
	}
	if err := im.validate(win); err != nil {
		return storage.Window{}, err
	}
	return win, nil
}

// validate checks a window before import
func (im *Importer) validate(w storage.Window) error {
	if err := ingest.ValidateSeries(w.Name, w.Labels); err != nil {
		return err
	}

	if !w.Resolution.Valid() {
		return fmt.Errorf("invalid resolution: %q", w.Resolution)
	}

	if w.Timestamp.IsZero() {
		return errors.New("window timestamp cannot be zero")
	}

	// Check for reasonable timestamp (not too far in past/future)
	now := im.now()
	if w.Timestamp.Before(now.Add(-10 * 365 * 24 * time.Hour)) {
		return fmt.Errorf("timestamp too far in past: %s", w.Timestamp)
	}
	if w.Timestamp.After(now.Add(24 * time.Hour)) {
		return fmt.Errorf("timestamp too far in future: %s", w.Timestamp)
	}

	return nil
}
