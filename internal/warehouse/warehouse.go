// Package warehouse defines the contract to the data-warehouse query layer
// that turns a cohort + metrics + window into an ordered row set. The real
// implementation lives with the warehouse team; this package carries the
// interface, a retrying wrapper with per-call timeouts, and an in-memory
// fake for tests and local development.
package warehouse

import (
	"context"
	"time"
)

// Query describes one windowed series request.
type Query struct {
	CohortBy []string
	Metrics  []string
	From     time.Time
	To       time.Time
	Filters  map[string]string
}

// WindowRow is one aggregation window. Values is keyed by metric name and
// rows arrive ordered by WindowStart.
type WindowRow struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Cohort      map[string]string
	Values      map[string]float64
}

// Fetcher retrieves windowed metric rows for a detection run.
type Fetcher interface {
	FetchWindows(ctx context.Context, q Query) ([]WindowRow, error)
}

// Series extracts the named metric from rows as a dense series, in row
// order, plus the index of the originating row for each kept point.
// Windows missing the metric contribute nothing; the detector's min_support
// validation catches windows that were mostly empty. The index mapping lets
// the caller attribute a flagged point back to its source window after
// sparse windows were dropped.
func Series(rows []WindowRow, metric string) ([]float64, []int) {
	out := make([]float64, 0, len(rows))
	kept := make([]int, 0, len(rows))
	for i, row := range rows {
		if v, ok := row.Values[metric]; ok {
			out = append(out, v)
			kept = append(kept, i)
		}
	}
	return out, kept
}

// Vectors extracts the named metrics from rows as feature vectors, one row
// per window, with the same row-index mapping as Series. Windows missing
// any of the metrics are dropped so every vector has the full dimension.
func Vectors(rows []WindowRow, metrics []string) ([][]float64, []int) {
	out := make([][]float64, 0, len(rows))
	kept := make([]int, 0, len(rows))
	for i, row := range rows {
		vec := make([]float64, 0, len(metrics))
		for _, m := range metrics {
			v, ok := row.Values[m]
			if !ok {
				vec = nil
				break
			}
			vec = append(vec, v)
		}
		if vec != nil {
			out = append(out, vec)
			kept = append(kept, i)
		}
	}
	return out, kept
}
