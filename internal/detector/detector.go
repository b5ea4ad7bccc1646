// Package detector contains the anomaly-detection algorithms behind the
// analytics API: STL+MAD for seasonal univariate series, CUSUM for level
// shifts, and an isolation forest for multivariate feature vectors. All
// algorithms sit behind the Detector contract and are built through the
// Registry from stored detector configuration.
package detector

import (
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cast"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// Validation errors. The orchestrator marks a run FAILED on any of these;
// none of them is retryable.
var (
	// ErrEmptySeries means the fetched window contained no points at all.
	ErrEmptySeries = errors.New("empty series")
	// ErrInsufficientData means the series is shorter than min_support.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNonFiniteInput means the series contains NaN or Inf values and
	// signals an upstream data-quality defect.
	ErrNonFiniteInput = errors.New("non-finite input")
	// ErrUnknownDetectorType is returned by the registry for an
	// unregistered type tag.
	ErrUnknownDetectorType = errors.New("unknown detector type")
)

// Result is the in-memory outcome of one detection call. Scores always has
// one entry per input point and Anomalies holds the indices whose score
// exceeded the detector threshold.
type Result struct {
	Scores    []float64
	Anomalies []int
	Evidence  map[string]any
}

// Detector scores a univariate series. Implementations validate their input
// first and never mutate it.
type Detector interface {
	Type() models.DetectorType
	Detect(series []float64) (*Result, error)
}

// MultivariateDetector scores rows of feature vectors instead of a single
// scalar series. The orchestrator routes to DetectVectors for detectors
// that implement it.
type MultivariateDetector interface {
	Detector
	DetectVectors(rows [][]float64) (*Result, error)
}

// Defaults for the common constructor parameters. Omitting a key from the
// stored params map never fails; the default applies.
const (
	DefaultK           = 3.5
	DefaultPersistence = 2
	DefaultMinSupport  = 50
)

// CommonParams are the fields every detector reads from the stored params
// map, independent of the algorithm.
type CommonParams struct {
	K           float64
	Persistence int
	MinSupport  int
}

// ParseCommonParams reads k, persistence and min_support from a raw params
// map. Stored params arrive as JSON, so numbers may be float64, int, or
// strings depending on which upstream wrote them; cast handles all of them.
func ParseCommonParams(params map[string]any) CommonParams {
	cp := CommonParams{
		K:           DefaultK,
		Persistence: DefaultPersistence,
		MinSupport:  DefaultMinSupport,
	}
	if v, ok := params["k"]; ok {
		if f, err := cast.ToFloat64E(v); err == nil && f > 0 {
			cp.K = f
		}
	}
	if v, ok := params["persistence"]; ok {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			cp.Persistence = n
		}
	}
	if v, ok := params["min_support"]; ok {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			cp.MinSupport = n
		}
	}
	return cp
}

// floatParam reads an optional positive float from the params map.
func floatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		if f, err := cast.ToFloat64E(v); err == nil && f > 0 {
			return f
		}
	}
	return def
}

// intParam reads an optional positive int from the params map.
func intParam(params map[string]any, key string, def int) int {
	if v, ok := params[key]; ok {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// boolParam reads an optional bool from the params map.
func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	}
	return def
}

// Validate checks a series before scoring. Order matters: emptiness first,
// then length, then finiteness, so the caller always gets the most
// structural failure.
func Validate(series []float64, minSupport int) error {
	if len(series) == 0 {
		return ErrEmptySeries
	}
	if len(series) < minSupport {
		return fmt.Errorf("%w: series has %d points, need at least %d", ErrInsufficientData, len(series), minSupport)
	}
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: value at index %d", ErrNonFiniteInput, i)
		}
	}
	return nil
}

// ValidateVectors applies the same checks to multivariate rows. MinSupport
// counts rows, not time periods, and all rows must share one dimension.
func ValidateVectors(rows [][]float64, minSupport int) error {
	if len(rows) == 0 {
		return ErrEmptySeries
	}
	if len(rows) < minSupport {
		return fmt.Errorf("%w: %d rows, need at least %d", ErrInsufficientData, len(rows), minSupport)
	}
	dim := len(rows[0])
	for i, row := range rows {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d features, expected %d", ErrNonFiniteInput, i, len(row), dim)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: row %d feature %d", ErrNonFiniteInput, i, j)
			}
		}
	}
	return nil
}

// FilterAnomalies returns the indices whose score strictly exceeds k.
// Shared by all detectors; the threshold semantics are not
// algorithm-specific.
func FilterAnomalies(scores []float64, k float64) []int {
	var idx []int
	for i, s := range scores {
		if s > k {
			idx = append(idx, i)
		}
	}
	return idx
}
