package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// DefaultBufferSize is how many observations a label set buffers before
// folding them into its digest
const DefaultBufferSize = 512

// digestSet accumulates observations for one label combination
type digestSet struct {
	labels  map[string]string
	digest  *tdigest.Digest
	pending []float64
}

// fold ingests the pending buffer as one sorted batch
func (ds *digestSet) fold() {
	if len(ds.pending) == 0 {
		return
	}
	ds.digest.Add(ds.pending...)
	ds.pending = ds.pending[:0]
}

// Summary tracks the distribution of observed values per label set
type Summary struct {
	name        string
	compression int
	bufferSize  int
	mu          sync.Mutex
	sets        map[string]*digestSet
}

// NewSummary creates a summary with the given digest compression
// (<= 0 selects tdigest.DefaultCompression)
func NewSummary(name string, compression int) *Summary {
	return &Summary{
		name:        name,
		compression: compression,
		bufferSize:  DefaultBufferSize,
		sets:        make(map[string]*digestSet),
	}
}

// Name returns the summary's series name
func (s *Summary) Name() string {
	return s.name
}

// Observe records a value. labels are key/value pairs:
// Observe(0.25, "route", "/api", "method", "GET").
// This only accumulates in memory; digests are shipped by Collect.
func (s *Summary) Observe(value float64, labels ...string) {
	key := makeKey(labels...)

	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.sets[key]
	if ds == nil {
		ds = &digestSet{
			labels:  keyToLabels(labels),
			digest:  tdigest.New(s.compression),
			pending: make([]float64, 0, s.bufferSize),
		}
		s.sets[key] = ds
	}

	ds.pending = append(ds.pending, value)
	if len(ds.pending) >= s.bufferSize {
		ds.fold()
	}
}

// Collect returns one digest per label set observed since the last call
// and resets them
func (s *Summary) Collect() []DigestPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var points []DigestPoint

	for key, ds := range s.sets {
		ds.fold()
		if ds.digest.Empty() {
			// Idle label sets are dropped until observed again
			delete(s.sets, key)
			continue
		}

		points = append(points, DigestPoint{
			Name:      s.name,
			Labels:    copyLabels(ds.labels),
			Timestamp: now,
			Digest:    ds.digest.Record(),
		})
		ds.digest = tdigest.New(s.compression)
	}

	return points
}

// Snapshot returns a merged digest of everything observed since the last
// Collect, across all label sets, without resetting
func (s *Summary) Snapshot() *tdigest.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()

	digests := make([]*tdigest.Digest, 0, len(s.sets))
	for _, ds := range s.sets {
		ds.fold()
		digests = append(digests, ds.digest)
	}
	if len(digests) == 0 {
		return tdigest.New(s.compression)
	}
	return tdigest.Merge(digests...)
}

// makeKey creates a key from labels for internal storage
func makeKey(labels ...string) string {
	return strings.Join(labels, "\x00")
}

// keyToLabels turns key/value pairs into a map; an odd trailing key is ignored
func keyToLabels(labels []string) map[string]string {
	if len(labels) < 2 {
		return nil
	}
	m := make(map[string]string, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		m[labels[i]] = labels[i+1]
	}
	return m
}

// copyLabels creates a copy of a label map
func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
