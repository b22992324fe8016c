package export

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/httpx"
	"github.com/nicktill/tinydigest/pkg/storage"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	logger   *zap.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the handler's logger
func (h *Handler) SetLogger(logger *zap.Logger) {
	h.logger = logger
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json", "csv" or "binary" (default: json)
//   - start, end: RFC3339 timestamps (default: the last 24h)
//   - name: series name filter (optional)
//   - resolution: raw, 5m or 1h (optional)
//   - q: CSV quantile columns (optional, comma separated)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV && format != FormatBinary {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json', 'csv' or 'binary'")
		return
	}

	end, err := parseTimeParam(query.Get("end"), time.Now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
		return
	}
	start, err := parseTimeParam(query.Get("start"), end.Add(-config.DefaultExportWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid start: %w", err))
		return
	}

	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("time range too large, maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{Start: start, End: end}

	if name := query.Get("name"); name != "" {
		opts.Names = []string{name}
	}

	if s := query.Get("resolution"); s != "" {
		res := storage.Resolution(s)
		if !res.Valid() {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid resolution %q", s))
			return
		}
		opts.Resolution = &res
	}

	if s := query.Get("q"); s != "" {
		for _, part := range strings.Split(s, ",") {
			q, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || !(q >= 0 && q <= 1) {
				httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid quantile %q", part))
				return
			}
			opts.Quantiles = append(opts.Quantiles, q)
		}
	}

	timestamp := time.Now().Format("20060102-150405")
	ctx := r.Context()
	var result *ExportResult

	switch format {
	case FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=tinydigest-export-%s.json", timestamp))
		result, err = h.exporter.ExportToJSON(ctx, w, opts)
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=tinydigest-export-%s.csv", timestamp))
		result, err = h.exporter.ExportToCSV(ctx, w, opts)
	default:
		w.Header().Set("Content-Type", "application/x-msgpack")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=tinydigest-export-%s.bin", timestamp))
		result, err = h.exporter.ExportToBinary(ctx, w, opts)
	}

	if err != nil {
		// Headers may already be written; the error is logged either way
		h.logger.Error("export failed", zap.String("format", format), zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	h.logger.Info("exported windows",
		zap.Int("windows", result.WindowsExported),
		zap.String("format", format),
		zap.String("range", result.TimeRange))
}

// HandleImport handles POST /v1/import. JSON and binary exports are
// accepted, chosen by Content-Type.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json or application/x-msgpack")
		return
	}

	body := http.MaxBytesReader(w, r.Body, config.ImportMaxBodyBytes)

	var result *ImportResult
	switch mediaType {
	case "application/json":
		result, err = h.importer.ImportFromJSON(r.Context(), body)
	case "application/x-msgpack", "application/octet-stream":
		result, err = h.importer.ImportFromBinary(r.Context(), body)
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json or application/x-msgpack")
		return
	}
	if err != nil {
		h.logger.Error("import failed", zap.Error(err))
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("import failed: %w", err))
		return
	}

	if len(result.Errors) > 0 {
		// Log first 10 errors
		h.logger.Warn("import completed with validation errors",
			zap.Int("errors", len(result.Errors)),
			zap.Strings("first", result.Errors[:min(10, len(result.Errors))]))
	}

	h.logger.Info("imported windows",
		zap.Int("windows", result.WindowsImported),
		zap.Int("batches", result.BatchesWritten),
		zap.String("range", result.TimeRange))

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses a time parameter or returns the default when empty
func parseTimeParam(param string, defaultTime time.Time) (time.Time, error) {
	if param == "" {
		return defaultTime, nil
	}

	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t, nil
	}

	// Simple datetime format, read as UTC
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%q is not an RFC3339 timestamp", param)
}
