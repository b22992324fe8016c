package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
)

// DefaultEndpoint is the digest ingest route of a local server
const DefaultEndpoint = "http://localhost:8080/v1/ingest/digests"

const (
	requestTimeout = 10 * time.Second

	// Error bodies beyond this are truncated
	maxErrorBody = 4 << 10
)

// Transport ships digests to a server
type Transport interface {
	Send(ctx context.Context, points []metrics.DigestPoint) error
}

// StatusError is returned when the server rejects a batch
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Code)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}

// Retryable reports whether resending the same batch may succeed
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// payload matches the server's digest ingest request
type payload struct {
	Digests []metrics.DigestPoint `json:"digests"`
}

// HTTPTransport posts digests as JSON
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTP creates a new HTTP transport
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &HTTPTransport{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}

// Endpoint returns the URL digests are posted to
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Send posts one batch of digests
func (t *HTTPTransport) Send(ctx context.Context, points []metrics.DigestPoint) error {
	if len(points) == 0 {
		return nil
	}

	body, err := json.Marshal(payload{Digests: points})
	if err != nil {
		return fmt.Errorf("failed to marshal digests: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// errorMessage extracts the message of a JSON error body, falling back to
// the raw text
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return string(bytes.TrimSpace(raw))
}
