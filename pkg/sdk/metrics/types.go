package metrics

import (
	"time"

	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// Observation is a batch of raw values for one series
type Observation struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	Values    []float64         `json:"values"`
	Timestamp time.Time         `json:"timestamp"`
}

// DigestPoint is a digest summarizing one series, built client side
type DigestPoint struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Digest    tdigest.Record    `json:"digest"`
}

// SummaryInterface records observations into a digest
type SummaryInterface interface {
	Observe(value float64, labels ...string)
}

// ClientInterface receives flushed digests
type ClientInterface interface {
	SendDigest(p DigestPoint)
}

// DigestCollector yields digests accumulated since the last collection
type DigestCollector interface {
	Collect() []DigestPoint
}
