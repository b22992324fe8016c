package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinydigest/pkg/export"
	"github.com/nicktill/tinydigest/pkg/httpx"
	"github.com/nicktill/tinydigest/pkg/ingest"
	"github.com/nicktill/tinydigest/pkg/query"
	"github.com/nicktill/tinydigest/pkg/server/monitor"
)

// Version is reported by /v1/health
const Version = "1.0.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string                   `json:"status"`
	Version    string                   `json:"version"`
	Uptime     string                   `json:"uptime"`
	Compaction monitor.CompactionStatus `json:"compaction"`
}

// handleHealth reports 503 while compaction is unhealthy.
func handleHealth(compactionMonitor *monitor.CompactionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := compactionMonitor.Status()
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !status.Healthy {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:     overallStatus,
			Version:    Version,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			Compaction: status,
		})
	}
}

// handleStorageUsage returns current disk usage against the limit.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := storageMonitor.Usage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(
	router *mux.Router,
	ingestHandler *ingest.Handler,
	queryHandler *query.Handler,
	exportHandler *export.Handler,
	storageMonitor *monitor.StorageMonitor,
	compactionMonitor *monitor.CompactionMonitor,
	hub *ingest.Hub,
	port string,
) {
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Ingestion: raw values and pre-built digests
	api.HandleFunc("/ingest", ingestHandler.HandleIngest).Methods("POST")
	api.HandleFunc("/ingest/digests", ingestHandler.HandleIngestDigests).Methods("POST")

	// Quantile queries
	api.HandleFunc("/quantiles", queryHandler.HandleQuantiles).Methods("GET")
	api.HandleFunc("/quantiles/range", queryHandler.HandleQuantilesRange).Methods("GET")
	api.HandleFunc("/series", queryHandler.HandleSeries).Methods("GET")

	// Metadata and stats
	api.HandleFunc("/stats", ingestHandler.HandleStats).Methods("GET")
	api.HandleFunc("/cardinality", ingestHandler.HandleCardinalityStats).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(storageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(compactionMonitor)).Methods("GET")

	// Live quantile snapshots
	api.HandleFunc("/ws", hub.HandleWebSocket).Methods("GET")

	// Export/import
	api.HandleFunc("/export", exportHandler.HandleExport).Methods("GET")
	api.HandleFunc("/import", exportHandler.HandleImport).Methods("POST")

	// Prometheus summary exposition
	router.HandleFunc("/metrics", ingestHandler.HandlePrometheusMetrics).Methods("GET")

	// Preflight requests match no route's method; answer them here since
	// router middleware only wraps matched routes
	router.MethodNotAllowedHandler = corsMiddleware(port)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
}

// corsMiddleware allows browser access from localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
