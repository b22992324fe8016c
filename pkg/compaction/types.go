package compaction

import (
	"time"

	"github.com/nicktill/tinydigest/pkg/storage"
)

// QuantileValue is one estimated quantile of a summary
type QuantileValue struct {
	Q     float64 `json:"q"`
	Value float64 `json:"value"`
}

// Summary reports the statistics of a window's digest
type Summary struct {
	// Series identification
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`

	// Time bucket
	Timestamp  time.Time          `json:"timestamp"`
	Resolution storage.Resolution `json:"resolution,omitempty"`

	// Digest statistics; Min and Max are 0 when Count is 0
	Count     float64         `json:"count"`
	Sum       float64         `json:"sum"`
	Mean      float64         `json:"mean"`
	Min       float64         `json:"min"`
	Max       float64         `json:"max"`
	Centroids int             `json:"centroids"`
	Quantiles []QuantileValue `json:"quantiles,omitempty"`
}

// Summarize reports count, sum, mean, min, max and the requested quantiles
// of w's digest. A window with no digest summarizes as empty.
func Summarize(w storage.Window, quantiles []float64) Summary {
	s := Summary{
		Name:       w.Name,
		Labels:     w.Labels,
		Timestamp:  w.Timestamp,
		Resolution: w.Resolution,
	}
	d := w.Digest
	if d == nil {
		return s
	}

	s.Count = d.Count()
	s.Sum = d.Sum()
	s.Mean = d.Mean()
	s.Min = d.Min()
	s.Max = d.Max()
	s.Centroids = d.Len()

	if len(quantiles) > 0 {
		s.Quantiles = make([]QuantileValue, len(quantiles))
		for i, q := range quantiles {
			s.Quantiles[i] = QuantileValue{Q: q, Value: d.Quantile(q)}
		}
	}
	return s
}

// Quantile returns the value reported for q, if present
func (s Summary) Quantile(q float64) (float64, bool) {
	for _, qv := range s.Quantiles {
		if qv.Q == q {
			return qv.Value, true
		}
	}
	return 0, false
}
