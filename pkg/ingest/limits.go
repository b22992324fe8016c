package ingest

import (
	"fmt"
	"math"

	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
)

// Cardinality and validation limits
const (
	// Per-series limits
	MaxLabelsPerSeries  = 20   // Maximum labels per series
	MaxLabelKeyLength   = 256  // Maximum label key length
	MaxLabelValueLength = 1024 // Maximum label value length
	MaxNameLength       = 256  // Maximum series name length

	// Global limits
	MaxUniqueSeries  = 100000 // Maximum unique series
	MaxSeriesPerName = 10000  // Maximum series per name

	// Request limits
	MaxObservationsPerRequest = 1000   // Maximum observations in single ingest request
	MaxValuesPerObservation   = 100000 // Maximum raw values in one observation
	MaxDigestsPerRequest      = 1000   // Maximum digests in single ingest request
)

var (
	// ErrTooManyLabels is returned when a series has too many labels
	ErrTooManyLabels = fmt.Errorf("too many labels (max %d)", MaxLabelsPerSeries)

	// ErrLabelKeyTooLong is returned when a label key is too long
	ErrLabelKeyTooLong = fmt.Errorf("label key too long (max %d chars)", MaxLabelKeyLength)

	// ErrLabelValueTooLong is returned when a label value is too long
	ErrLabelValueTooLong = fmt.Errorf("label value too long (max %d chars)", MaxLabelValueLength)

	// ErrNameTooLong is returned when a series name is too long
	ErrNameTooLong = fmt.Errorf("series name too long (max %d chars)", MaxNameLength)

	// ErrNameEmpty is returned when a series name is empty
	ErrNameEmpty = fmt.Errorf("series name cannot be empty")

	// ErrCardinalityLimit is returned when the total series limit is exceeded
	ErrCardinalityLimit = fmt.Errorf("cardinality limit exceeded (max %d unique series)", MaxUniqueSeries)

	// ErrNameCardinalityLimit is returned when a single name's series limit is exceeded
	ErrNameCardinalityLimit = fmt.Errorf("name cardinality limit exceeded (max %d series per name)", MaxSeriesPerName)

	// ErrTooManyObservations is returned when an ingest request contains too many observations
	ErrTooManyObservations = fmt.Errorf("too many observations in request (max %d)", MaxObservationsPerRequest)

	// ErrTooManyDigests is returned when an ingest request contains too many digests
	ErrTooManyDigests = fmt.Errorf("too many digests in request (max %d)", MaxDigestsPerRequest)

	// ErrTooManyValues is returned when an observation carries too many values
	ErrTooManyValues = fmt.Errorf("too many values in observation (max %d)", MaxValuesPerObservation)

	// ErrNoValues is returned when an observation carries no values
	ErrNoValues = fmt.Errorf("observation has no values")

	// ErrNonFiniteValue is returned for NaN or infinite values
	ErrNonFiniteValue = fmt.Errorf("value must be finite")
)

// ValidateSeries validates a series name and labels against limits
func ValidateSeries(name string, labels map[string]string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrNameTooLong, name, len(name))
	}

	if len(labels) > MaxLabelsPerSeries {
		return fmt.Errorf("%w: series %q has %d labels", ErrTooManyLabels, name, len(labels))
	}

	for k, v := range labels {
		if len(k) > MaxLabelKeyLength {
			return fmt.Errorf("%w: key %q in series %q", ErrLabelKeyTooLong, k, name)
		}
		if len(v) > MaxLabelValueLength {
			return fmt.Errorf("%w: value for key %q in series %q", ErrLabelValueTooLong, k, name)
		}
	}

	return nil
}

// ValidateObservation validates an observation's series and values
func ValidateObservation(o metrics.Observation) error {
	if err := ValidateSeries(o.Name, o.Labels); err != nil {
		return err
	}
	if len(o.Values) == 0 {
		return fmt.Errorf("%w: series %q", ErrNoValues, o.Name)
	}
	if len(o.Values) > MaxValuesPerObservation {
		return fmt.Errorf("%w: series %q has %d values", ErrTooManyValues, o.Name, len(o.Values))
	}
	for i, v := range o.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: series %q value %d", ErrNonFiniteValue, o.Name, i)
		}
	}
	return nil
}
