package export

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinydigest/pkg/storage/memory"
)

func TestHandleExport_Formats(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	h := NewHandler(seedStore(t, now))

	tests := []struct {
		format      string
		contentType string
	}{
		{"", "application/json"},
		{"json", "application/json"},
		{"csv", "text/csv"},
		{"binary", "application/x-msgpack"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/export?format="+tt.format, nil)
			rr := httptest.NewRecorder()
			h.HandleExport(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			require.Equal(t, tt.contentType, rr.Header().Get("Content-Type"))
			require.Contains(t, rr.Header().Get("Content-Disposition"), "tinydigest-export-")
			require.NotZero(t, rr.Body.Len())
		})
	}
}

func TestHandleExport_Validation(t *testing.T) {
	h := NewHandler(memory.New())

	tests := []struct {
		query string
		want  string
	}{
		{"format=xml", "invalid format"},
		{"start=yesterday", "invalid start"},
		{"start=2024-01-02T00:00:00Z&end=2024-01-01T00:00:00Z", "start must be before end"},
		{"start=2024-01-01T00:00:00Z&end=2024-03-01T00:00:00Z", "time range too large"},
		{"resolution=1d", "invalid resolution"},
		{"format=csv&q=2", "invalid quantile"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/export?"+tt.query, nil)
		rr := httptest.NewRecorder()
		h.HandleExport(rr, req)

		require.Equal(t, http.StatusBadRequest, rr.Code, tt.query)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Contains(t, resp["message"], tt.want, tt.query)
	}
}

func TestHandleImport(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	source := NewHandler(seedStore(t, now))

	req := httptest.NewRequest(http.MethodGet, "/v1/export?format=binary", nil)
	rr := httptest.NewRecorder()
	source.HandleExport(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	target := NewHandler(memory.New())
	req = httptest.NewRequest(http.MethodPost, "/v1/import", bytes.NewReader(rr.Body.Bytes()))
	req.Header.Set("Content-Type", "application/x-msgpack")
	rr = httptest.NewRecorder()
	target.HandleImport(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var result ImportResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, 2, result.WindowsImported)
}

func TestHandleImport_ContentType(t *testing.T) {
	h := NewHandler(memory.New())

	req := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader("a,b"))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	h.HandleImport(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(`{"windows":[]}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr = httptest.NewRecorder()
	h.HandleImport(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
