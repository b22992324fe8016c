package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// recordingTransport keeps every point it is sent
type recordingTransport struct {
	mu     sync.Mutex
	points []metrics.DigestPoint
}

func (r *recordingTransport) Send(ctx context.Context, points []metrics.DigestPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, points...)
	return nil
}

func (r *recordingTransport) byName(name string) []metrics.DigestPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []metrics.DigestPoint
	for _, p := range r.points {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(ClientConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service name is required")

	_, err = New(ClientConfig{Service: "api", Compression: -1})
	require.Error(t, err)

	client, err := New(ClientConfig{Service: "api"})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, client.config.FlushEvery)
}

func TestClient_SummaryIsShared(t *testing.T) {
	client, err := NewWithTransport(ClientConfig{Service: "api", DisableRuntime: true}, &recordingTransport{})
	require.NoError(t, err)

	a := client.Summary("latency")
	b := client.Summary("latency")
	assert.Same(t, a, b)
	assert.NotSame(t, a, client.Summary("size"))
}

func TestClient_FlushShipsDigests(t *testing.T) {
	transport := &recordingTransport{}
	client, err := NewWithTransport(ClientConfig{Service: "api", DisableRuntime: true}, transport)
	require.NoError(t, err)

	latency := client.Summary("latency")
	for i := 1; i <= 100; i++ {
		latency.Observe(float64(i), "route", "/a")
	}
	latency.Observe(500, "route", "/b")

	require.NoError(t, client.Flush())

	points := transport.byName("latency")
	require.Len(t, points, 2)
	for _, p := range points {
		assert.Equal(t, "api", p.Labels["service"])
		d, err := tdigest.FromRecord(p.Digest)
		require.NoError(t, err)
		switch p.Labels["route"] {
		case "/a":
			assert.Equal(t, 100.0, d.Count())
			assert.InDelta(t, 50.5, d.Quantile(0.5), 1.5)
		case "/b":
			assert.Equal(t, 1.0, d.Count())
			assert.Equal(t, 500.0, d.Quantile(0.99))
		default:
			t.Fatalf("unexpected route %q", p.Labels["route"])
		}
	}

	// Summaries reset on every flush
	require.NoError(t, client.Flush())
	assert.Len(t, transport.byName("latency"), 2)
}

// constantCollector yields one fixed point per collection
type constantCollector struct{}

func (constantCollector) Collect() []metrics.DigestPoint {
	d := tdigest.New(100)
	d.Add(42)
	return []metrics.DigestPoint{{Name: "custom", Digest: d.Record()}}
}

func TestClient_Register(t *testing.T) {
	transport := &recordingTransport{}
	client, err := NewWithTransport(ClientConfig{Service: "api", DisableRuntime: true}, transport)
	require.NoError(t, err)

	client.Register(constantCollector{})
	require.NoError(t, client.Flush())

	points := transport.byName("custom")
	require.Len(t, points, 1)
	assert.Equal(t, map[string]string{"service": "api"}, points[0].Labels)
}

func TestClient_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	transport := &recordingTransport{}
	client, err := NewWithTransport(ClientConfig{Service: "api", FlushEvery: time.Hour}, transport)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	require.Error(t, client.Start(context.Background()), "second Start should fail")

	client.Summary("latency").Observe(1.5)
	require.NoError(t, client.Stop())
	require.NoError(t, client.Stop(), "Stop is idempotent")

	// Stop collects and flushes, runtime summaries included
	assert.Len(t, transport.byName("latency"), 1)
	assert.NotEmpty(t, transport.byName("go_goroutines"))
	assert.Equal(t, int64(0), client.Stats().Failed)
}

func TestClient_PeriodicFlush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	transport := &recordingTransport{}
	client, err := NewWithTransport(ClientConfig{
		Service:        "api",
		FlushEvery:     10 * time.Millisecond,
		DisableRuntime: true,
	}, transport)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background()))

	client.Summary("latency").Observe(3)
	require.Eventually(t, func() bool { return len(transport.byName("latency")) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Stop())
}

func TestClient_HTTPTransport(t *testing.T) {
	var mu sync.Mutex
	var received []metrics.DigestPoint
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ingest/digests", r.URL.Path)
		var body struct {
			Digests []metrics.DigestPoint `json:"digests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, body.Digests...)
		mu.Unlock()
	}))
	defer server.Close()

	client, err := New(ClientConfig{
		Service:        "api",
		Endpoint:       server.URL + "/v1/ingest/digests",
		DisableRuntime: true,
	})
	require.NoError(t, err)

	client.Summary("latency").Observe(0.25, "route", "/")
	require.NoError(t, client.Flush())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "latency", received[0].Name)
	assert.Equal(t, "/", received[0].Labels["route"])
}
