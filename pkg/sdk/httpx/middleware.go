package httpx

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
)

// Summary names recorded by Middleware
const (
	RequestDurationName = "http_request_duration_seconds"
	ResponseSizeName    = "http_response_size_bytes"
)

// SummaryProvider hands out named summaries; *sdk.Client implements it
type SummaryProvider interface {
	Summary(name string) *metrics.Summary
}

var (
	numericSegment = regexp.MustCompile(`/\d+`)
	uuidSegment    = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// Middleware returns HTTP middleware recording, per method, path and status:
//   - http_request_duration_seconds: request latency distribution
//   - http_response_size_bytes: response body size distribution
//
// Usage:
//
//	client, _ := sdk.New(sdk.ClientConfig{Service: "api"})
//	client.Start(ctx)
//	defer client.Stop()
//
//	handler := httpx.Middleware(client)(mux)
//	http.ListenAndServe(":8000", handler)
func Middleware(provider SummaryProvider) func(http.Handler) http.Handler {
	duration := provider.Summary(RequestDurationName)
	size := provider.Summary(ResponseSizeName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			labels := []string{
				"method", r.Method,
				"path", normalizePath(r.URL.Path),
				"status", strconv.Itoa(rw.statusCode),
			}
			duration.Observe(time.Since(start).Seconds(), labels...)
			size.Observe(float64(rw.bytes), labels...)
		})
	}
}

// responseWriter captures the status code and body size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath replaces numeric and UUID segments with {id} so that
// series count stays bounded:
//   - /api/users/123 → /api/users/{id}
//   - /posts/456/comments → /posts/{id}/comments
func normalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	return numericSegment.ReplaceAllString(path, "/{id}")
}
