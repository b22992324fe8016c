package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/httpx"
	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// StorageChecker reports storage usage against a limit
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler turns ingest requests into raw digest windows
type Handler struct {
	storage        storage.Storage
	cardinality    *CardinalityTracker
	storageChecker StorageChecker
	compression    int
	logger         *zap.Logger
	now            func() time.Time

	// serializes read-merge-write of raw windows
	writeMu sync.Mutex
}

// NewHandler creates a new ingest handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		storage:     store,
		cardinality: NewCardinalityTracker(),
		compression: config.DefaultCompression,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
}

// SetStorageChecker enables rejecting writes once storage is full
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// SetCompression sets the compression of digests built from raw values
func (h *Handler) SetCompression(compression int) {
	if compression <= 0 {
		compression = config.DefaultCompression
	}
	h.compression = compression
}

// SetLogger sets the handler's logger
func (h *Handler) SetLogger(logger *zap.Logger) {
	h.logger = logger
}

// Cardinality returns the handler's cardinality tracker
func (h *Handler) Cardinality() *CardinalityTracker {
	return h.cardinality
}

// IngestRequest carries raw values to summarize server side
type IngestRequest struct {
	Observations []metrics.Observation `json:"observations"`
}

// DigestIngestRequest carries digests built by clients
type DigestIngestRequest struct {
	Digests []metrics.DigestPoint `json:"digests"`
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status  string  `json:"status"`
	Windows int     `json:"windows"`
	Values  float64 `json:"values"`
	Message string  `json:"message,omitempty"`
}

// HandleIngest handles POST /v1/ingest. Each observation becomes a raw
// window whose digest summarizes its values.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := httpx.DecodeJSON(w, r, config.IngestMaxBodyBytes, &req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if len(req.Observations) > MaxObservationsPerRequest {
		httpx.RespondError(w, http.StatusBadRequest, ErrTooManyObservations)
		return
	}

	windows := make([]storage.Window, 0, len(req.Observations))
	for i, o := range req.Observations {
		if err := ValidateObservation(o); err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid observation %d: %v", i, err))
			return
		}

		d := tdigest.New(h.compression)
		d.Add(o.Values...)
		windows = append(windows, h.rawWindow(o.Name, o.Labels, o.Timestamp, d))
	}

	h.write(w, r, windows)
}

// HandleIngestDigests handles POST /v1/ingest/digests. Records are
// validated; a record missing fields fails the whole request.
func (h *Handler) HandleIngestDigests(w http.ResponseWriter, r *http.Request) {
	var req DigestIngestRequest
	if err := httpx.DecodeJSON(w, r, config.IngestMaxBodyBytes, &req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if len(req.Digests) > MaxDigestsPerRequest {
		httpx.RespondError(w, http.StatusBadRequest, ErrTooManyDigests)
		return
	}

	windows := make([]storage.Window, 0, len(req.Digests))
	for i, p := range req.Digests {
		if err := ValidateSeries(p.Name, p.Labels); err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid digest %d: %v", i, err))
			return
		}

		d, err := tdigest.FromRecord(p.Digest)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid digest %d: %v", i, err))
			return
		}
		if d.Empty() {
			continue
		}
		windows = append(windows, h.rawWindow(p.Name, p.Labels, p.Timestamp, d))
	}

	h.write(w, r, windows)
}

func (h *Handler) rawWindow(name string, labels map[string]string, ts time.Time, d *tdigest.Digest) storage.Window {
	if ts.IsZero() {
		ts = h.now()
	}
	return storage.Window{
		Name:       name,
		Labels:     labels,
		Timestamp:  ts,
		Resolution: storage.ResolutionRaw,
		Digest:     d,
	}
}

// write checks limits, folds duplicate windows and stores the batch
func (h *Handler) write(w http.ResponseWriter, r *http.Request, windows []storage.Window) {
	if h.storageChecker != nil {
		if used, err := h.storageChecker.GetUsage(); err == nil && used >= h.storageChecker.GetLimit() {
			httpx.RespondErrorString(w, http.StatusInsufficientStorage,
				fmt.Sprintf("storage limit reached (%d of %d bytes used)", used, h.storageChecker.GetLimit()))
			return
		}
	}

	windows = foldDuplicates(windows)

	for _, win := range windows {
		if err := h.cardinality.Check(win.Name, win.Labels); err != nil {
			httpx.RespondError(w, http.StatusTooManyRequests, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	var values float64
	for _, win := range windows {
		values += win.Digest.Count()
	}

	if err := h.mergeAndStore(ctx, windows); err != nil {
		h.logger.Error("failed to write windows", zap.Int("windows", len(windows)), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		httpx.RespondErrorString(w, status, "failed to store digests")
		return
	}

	for _, win := range windows {
		h.cardinality.Record(win.Name, win.Labels)
	}

	httpx.RespondJSON(w, http.StatusOK, IngestResponse{
		Status:  "success",
		Windows: len(windows),
		Values:  values,
	})
}

// mergeAndStore folds each window into the raw window already stored for
// the same series and timestamp, then writes the batch. Accepted data is
// never replaced by a later request.
func (h *Handler) mergeAndStore(ctx context.Context, windows []storage.Window) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	stored, err := h.storedRaw(ctx, windows)
	if err != nil {
		return err
	}

	out := make([]storage.Window, len(windows))
	for i, w := range windows {
		if prev, ok := stored[windowKey(w)]; ok && prev.Digest != nil && !prev.Digest.Empty() {
			w.Digest = tdigest.Merge(prev.Digest, w.Digest)
		}
		out[i] = w
	}
	return h.storage.Write(ctx, out)
}

// storedRaw loads the raw windows that share a series and timestamp with
// the batch, keyed by windowKey
func (h *Handler) storedRaw(ctx context.Context, windows []storage.Window) (map[string]storage.Window, error) {
	if len(windows) == 0 {
		return nil, nil
	}

	start, end := windows[0].Timestamp, windows[0].Timestamp
	names := make([]string, 0, len(windows))
	seenName := make(map[string]bool, len(windows))
	for _, w := range windows {
		if w.Timestamp.Before(start) {
			start = w.Timestamp
		}
		if w.Timestamp.After(end) {
			end = w.Timestamp
		}
		if !seenName[w.Name] {
			seenName[w.Name] = true
			names = append(names, w.Name)
		}
	}

	existing, err := h.storage.Query(ctx, storage.QueryRequest{
		Start:      start,
		End:        end,
		Names:      names,
		Resolution: storage.ResolutionPtr(storage.ResolutionRaw),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load stored windows: %w", err)
	}

	out := make(map[string]storage.Window, len(existing))
	for _, w := range existing {
		out[windowKey(w)] = w
	}
	return out, nil
}

// windowKey identifies a window by series and exact timestamp
func windowKey(w storage.Window) string {
	return w.SeriesKey() + "@" + w.Timestamp.UTC().Format(time.RFC3339Nano)
}

// foldDuplicates merges windows of the same series and timestamp so one
// request never overwrites its own data
func foldDuplicates(windows []storage.Window) []storage.Window {
	type slot struct {
		index   int
		digests []*tdigest.Digest
	}
	seen := make(map[string]*slot, len(windows))
	out := windows[:0:0]

	for _, w := range windows {
		key := windowKey(w)
		if s, ok := seen[key]; ok {
			s.digests = append(s.digests, w.Digest)
			continue
		}
		seen[key] = &slot{index: len(out), digests: []*tdigest.Digest{w.Digest}}
		out = append(out, w)
	}

	for _, s := range seen {
		if len(s.digests) > 1 {
			out[s.index].Digest = tdigest.Merge(s.digests...)
		}
	}
	return out
}

// StatsResponse reports storage and cardinality usage
type StatsResponse struct {
	Storage     *storage.Stats   `json:"storage"`
	Cardinality CardinalityStats `json:"cardinality"`
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestStatsTimeout)
	defer cancel()

	stats, err := h.storage.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to get stats: %w", err))
		return
	}

	httpx.RespondJSON(w, http.StatusOK, StatsResponse{
		Storage:     stats,
		Cardinality: h.cardinality.Stats(),
	})
}

// HandleCardinalityStats handles GET /v1/cardinality
func (h *Handler) HandleCardinalityStats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.cardinality.Stats())
}
