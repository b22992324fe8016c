package tdigest

import (
	"encoding/json"
	"fmt"
)

// CentroidRecord is the exchanged form of a centroid.
type CentroidRecord struct {
	Mean   *float64 `json:"mean"`
	Weight *float64 `json:"weight"`
}

// Record is the exchanged form of a digest. Pointer fields distinguish an
// absent field from a zero value; Min and Max are omitted for a digest that
// never observed data.
type Record struct {
	Centroids []CentroidRecord `json:"centroids"`
	Sum       *float64         `json:"sum"`
	Count     *float64         `json:"count"`
	Size      *int             `json:"size"`
	Max       *float64         `json:"max,omitempty"`
	Min       *float64         `json:"min,omitempty"`
}

// Record returns the exchanged form of the digest.
func (d *Digest) Record() Record {
	rec := Record{
		Centroids: make([]CentroidRecord, len(d.centroids)),
		Sum:       float64Ptr(d.sum),
		Count:     float64Ptr(d.count),
		Size:      intPtr(d.compression),
	}
	for i, c := range d.centroids {
		rec.Centroids[i] = CentroidRecord{Mean: float64Ptr(c.Mean), Weight: float64Ptr(c.Weight)}
	}
	if d.bounds.set {
		rec.Max = float64Ptr(d.bounds.max)
		rec.Min = float64Ptr(d.bounds.min)
	}
	return rec
}

// FromRecord rebuilds a digest from its exchanged form. A record missing
// centroids, sum, count or size, a record with centroids but no min/max,
// or a centroid without mean/weight yields a *ValidationError and no
// digest. Records carrying more centroids than their size are recompressed.
// Min and max given without centroids are kept.
func FromRecord(rec Record) (*Digest, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	centroids := make([]Centroid, len(rec.Centroids))
	for i, c := range rec.Centroids {
		centroids[i] = Centroid{Mean: *c.Mean, Weight: *c.Weight}
	}

	var max, min float64
	if rec.Max != nil {
		max = *rec.Max
	}
	if rec.Min != nil {
		min = *rec.Min
	}

	d := FromCentroids(centroids, *rec.Sum, *rec.Count, max, min, *rec.Size)
	// Bounds on a record without centroids survive so the record round-trips
	if len(centroids) == 0 && rec.Min != nil && rec.Max != nil {
		d.bounds = bounds{min: min, max: max, set: true}
	}
	return d, nil
}

// Validate checks that the record carries every field reconstruction needs.
func (rec Record) Validate() error {
	switch {
	case rec.Centroids == nil:
		return &ValidationError{Field: "centroids", Reason: "missing"}
	case rec.Sum == nil:
		return &ValidationError{Field: "sum", Reason: "missing"}
	case rec.Count == nil:
		return &ValidationError{Field: "count", Reason: "missing"}
	case rec.Size == nil:
		return &ValidationError{Field: "size", Reason: "missing"}
	}

	if len(rec.Centroids) > 0 && (rec.Min == nil || rec.Max == nil) {
		return &ValidationError{Reason: "centroids present without min/max"}
	}

	for i, c := range rec.Centroids {
		if c.Mean == nil || c.Weight == nil {
			return &ValidationError{
				Field:  fmt.Sprintf("centroids[%d]", i),
				Reason: "missing mean or weight",
			}
		}
	}
	return nil
}

// MarshalJSON encodes the digest as its Record.
func (d *Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Record())
}

// UnmarshalJSON decodes a Record and rebuilds the digest from it.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to decode digest: %w", err)
	}
	decoded, err := FromRecord(rec)
	if err != nil {
		return err
	}
	*d = *decoded
	return nil
}

// ParseJSON decodes a digest from its JSON record.
func ParseJSON(data []byte) (*Digest, error) {
	d := &Digest{}
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

func float64Ptr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
