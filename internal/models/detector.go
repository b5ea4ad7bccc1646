package models

import (
	"time"
)

// DetectorType identifies the algorithm behind a configured detector.
type DetectorType string

const (
	DetectorTypeSTLMAD        DetectorType = "stl_mad"
	DetectorTypeCUSUM         DetectorType = "cusum"
	DetectorTypeIsoForest     DetectorType = "isoforest"
	DetectorTypeRCF           DetectorType = "rcf"            // accepted in config, not implemented
	DetectorTypeMatrixProfile DetectorType = "matrix_profile" // accepted in config, not implemented
)

// Valid reports whether t is one of the known detector type tags.
// Config storage accepts all known tags; the detector registry decides
// which of them it can actually build.
func (t DetectorType) Valid() bool {
	switch t {
	case DetectorTypeSTLMAD, DetectorTypeCUSUM, DetectorTypeIsoForest,
		DetectorTypeRCF, DetectorTypeMatrixProfile:
		return true
	}
	return false
}

// DetectorConfig is a stored detector configuration. It is immutable once a
// detection run references it; mutation happens only through configuration
// management, which lives outside this service.
type DetectorConfig struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Tenant    string         `json:"tenant" db:"tenant"`
	Type      DetectorType   `json:"type" db:"type"`
	CohortBy  []string       `json:"cohort_by" db:"-"`
	Metrics   DetectorMetric `json:"metrics" db:"-"`
	Params    map[string]any `json:"params" db:"-"`
	Enabled   bool           `json:"enabled" db:"enabled"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// DetectorMetric names the primary metric a detector scores plus any
// secondary metrics used by multivariate detectors.
type DetectorMetric struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary,omitempty"`
}

// AllMetrics returns the primary metric followed by the secondary metrics.
func (m DetectorMetric) AllMetrics() []string {
	out := make([]string, 0, 1+len(m.Secondary))
	if m.Primary != "" {
		out = append(out, m.Primary)
	}
	return append(out, m.Secondary...)
}
